package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pollwave/internal/polls"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	visitorContextKey = "pollwave_visitor_id"

	maxFeedLimit = 100
)

var (
	errMissingPollService   = errors.New("poll service dependency required")
	errMissingVisitorIssuer = errors.New("visitor issuer dependency required")
)

// VisitorIssuer mints and validates the signed visitor cookie tokens.
type VisitorIssuer interface {
	CookieName() string
	TokenTTL() time.Duration
	IssueVisitor() (string, string, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the services it fronts.
type Dependencies struct {
	PollService      *polls.Service
	VisitorIssuer    VisitorIssuer
	CreateLimiter    RateLimiter
	FeedDefaultLimit int
	SecureCookies    bool
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router for the poll API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.PollService == nil {
		return nil, errMissingPollService
	}
	if deps.VisitorIssuer == nil {
		return nil, errMissingVisitorIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	feedLimit := deps.FeedDefaultLimit
	if feedLimit <= 0 {
		feedLimit = polls.DefaultFeedLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		pollService:   deps.PollService,
		visitors:      deps.VisitorIssuer,
		feedLimit:     feedLimit,
		secureCookies: deps.SecureCookies,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/")
	api.Use(handler.resolveVisitor)
	api.GET("/polls", handler.handleListPolls)
	api.GET("/polls/:id", handler.handleGetPoll)
	api.POST("/polls/:id/votes", handler.handleCastVote)
	api.POST("/polls/:id/upvotes", handler.handleCastUpvote)

	create := api.Group("/")
	if deps.CreateLimiter != nil {
		create.Use(rateLimitMiddleware(deps.CreateLimiter, logger))
	}
	create.POST("/polls", handler.handleCreatePoll)

	return router, nil
}

type httpHandler struct {
	pollService   *polls.Service
	visitors      VisitorIssuer
	feedLimit     int
	secureCookies bool
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createPollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type createPollResponse struct {
	PollID string `json:"poll_id"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	var request createPollRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	pollID, err := h.pollService.Create(c.Request.Context(), request.Question, request.Options)
	if err != nil {
		switch {
		case errors.Is(err, polls.ErrInvalidQuestion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_question"})
		case errors.Is(err, polls.ErrNotEnoughOptions):
			c.JSON(http.StatusBadRequest, gin.H{"error": "not_enough_options"})
		default:
			h.logger.Error("failed to create poll", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "code": serviceErrorCode(err)})
		}
		return
	}

	c.JSON(http.StatusCreated, createPollResponse{PollID: pollID.String()})
}

type optionPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	VoteCount int64  `json:"vote_count"`
}

type pollPayload struct {
	ID               string          `json:"id"`
	Question         string          `json:"question"`
	UpvoteCount      int64           `json:"upvote_count"`
	TotalVotes       int64           `json:"total_votes"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	Options          []optionPayload `json:"options"`
}

type feedResponse struct {
	Polls []pollPayload `json:"polls"`
}

func (h *httpHandler) handleListPolls(c *gin.Context) {
	limit := h.feedLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxFeedLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	views, err := h.pollService.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list polls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "code": serviceErrorCode(err)})
		return
	}

	response := feedResponse{Polls: make([]pollPayload, 0, len(views))}
	for _, view := range views {
		response.Polls = append(response.Polls, buildPollPayload(view))
	}
	c.JSON(http.StatusOK, response)
}

type pollDetailResponse struct {
	Poll       pollPayload `json:"poll"`
	HasVoted   bool        `json:"has_voted"`
	HasUpvoted bool        `json:"has_upvoted"`
	VoteChoice string      `json:"vote_choice,omitempty"`
}

func (h *httpHandler) handleGetPoll(c *gin.Context) {
	userID, pollID, ok := h.bindInteraction(c)
	if !ok {
		return
	}

	view, found, err := h.pollService.Get(c.Request.Context(), pollID)
	if err != nil {
		h.logger.Error("failed to load poll", zap.Error(err), zap.String("poll_id", pollID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "code": serviceErrorCode(err)})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	hasVoted, err := h.pollService.HasVoted(c.Request.Context(), userID, pollID)
	if err != nil {
		h.logger.Error("failed to load vote state", zap.Error(err), zap.String("poll_id", pollID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "code": serviceErrorCode(err)})
		return
	}
	hasUpvoted, err := h.pollService.HasUpvoted(c.Request.Context(), userID, pollID)
	if err != nil {
		h.logger.Error("failed to load upvote state", zap.Error(err), zap.String("poll_id", pollID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "code": serviceErrorCode(err)})
		return
	}

	response := pollDetailResponse{
		Poll:       buildPollPayload(view),
		HasVoted:   hasVoted,
		HasUpvoted: hasUpvoted,
	}
	if hasVoted {
		choice, found, err := h.pollService.VoteChoice(c.Request.Context(), userID, pollID)
		if err != nil {
			h.logger.Error("failed to load vote choice", zap.Error(err), zap.String("poll_id", pollID.String()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "code": serviceErrorCode(err)})
			return
		}
		if found {
			response.VoteChoice = choice.String()
		}
	}

	c.JSON(http.StatusOK, response)
}

type castVoteRequest struct {
	OptionID string `json:"option_id"`
}

type castResponse struct {
	Counted bool `json:"counted"`
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	userID, pollID, ok := h.bindInteraction(c)
	if !ok {
		return
	}

	var request castVoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	optionID, err := polls.NewOptionID(request.OptionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_option_id"})
		return
	}

	counted, err := h.pollService.CastVote(c.Request.Context(), userID, pollID, optionID)
	if err != nil {
		h.logger.Error("failed to cast vote", zap.Error(err),
			zap.String("poll_id", pollID.String()),
			zap.String("option_id", optionID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vote_failed", "code": serviceErrorCode(err)})
		return
	}

	c.JSON(http.StatusOK, castResponse{Counted: counted})
}

func (h *httpHandler) handleCastUpvote(c *gin.Context) {
	userID, pollID, ok := h.bindInteraction(c)
	if !ok {
		return
	}

	counted, err := h.pollService.CastUpvote(c.Request.Context(), userID, pollID)
	if err != nil {
		h.logger.Error("failed to cast upvote", zap.Error(err), zap.String("poll_id", pollID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upvote_failed", "code": serviceErrorCode(err)})
		return
	}

	c.JSON(http.StatusOK, castResponse{Counted: counted})
}

// bindInteraction extracts the visitor id from the request context and the poll
// id from the path, answering the request itself when either is unusable.
func (h *httpHandler) bindInteraction(c *gin.Context) (polls.UserID, polls.PollID, bool) {
	userID, err := polls.NewUserID(c.GetString(visitorContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_visitor"})
		return "", "", false
	}
	pollID, err := polls.NewPollID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_poll_id"})
		return "", "", false
	}
	return userID, pollID, true
}

func buildPollPayload(view polls.PollView) pollPayload {
	payload := pollPayload{
		ID:               view.ID.String(),
		Question:         view.Question,
		UpvoteCount:      view.UpvoteCount,
		TotalVotes:       view.TotalVotes(),
		CreatedAtSeconds: view.CreatedAtSeconds,
		Options:          make([]optionPayload, 0, len(view.Options)),
	}
	for _, option := range view.Options {
		payload.Options = append(payload.Options, optionPayload{
			ID:        option.ID.String(),
			Text:      option.Text,
			VoteCount: option.VoteCount,
		})
	}
	return payload
}

func serviceErrorCode(err error) string {
	var serviceErr *polls.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return "internal"
}
