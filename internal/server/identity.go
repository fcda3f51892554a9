package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/pollwave/internal/identity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// resolveVisitor reads the visitor cookie, validates its token, and places the
// opaque visitor id on the request context. A missing or invalid cookie gets a
// fresh identity issued transparently; the client never sees a failure for it.
func (h *httpHandler) resolveVisitor(c *gin.Context) {
	cookieName := h.visitors.CookieName()

	if token, err := c.Cookie(cookieName); err == nil {
		visitorID, validateErr := h.visitors.ValidateToken(token)
		if validateErr == nil {
			c.Set(visitorContextKey, visitorID)
			c.Next()
			return
		}
		if !errors.Is(validateErr, identity.ErrMissingToken) {
			h.logger.Warn("visitor token rejected, reissuing", zap.Error(validateErr))
		}
	}

	visitorID, token, err := h.visitors.IssueVisitor()
	if err != nil {
		h.logger.Error("failed to issue visitor identity", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, token, int(h.visitors.TokenTTL().Seconds()), "/", "", h.secureCookies, true)
	c.Set(visitorContextKey, visitorID)
	c.Next()
}
