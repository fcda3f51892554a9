package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pollwave/internal/database"
	"github.com/MarcoPoloResearchLab/pollwave/internal/identity"
	"github.com/MarcoPoloResearchLab/pollwave/internal/polls"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return newTestHandlerWithLimiter(t, nil)
}

func newTestHandlerWithLimiter(t *testing.T, limiter RateLimiter) http.Handler {
	t.Helper()
	handler, _ := newTestHandlerWithDatabase(t, Dependencies{CreateLimiter: limiter})
	return handler
}

func newTestHandlerWithDatabase(t *testing.T, deps Dependencies) (http.Handler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api_test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	pollService, err := polls.NewService(polls.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: polls.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create poll service: %v", err)
	}

	issuer, err := identity.NewIssuer(identity.IssuerConfig{
		SigningSecret: []byte("test-secret"),
		CookieName:    "pollwave_visitor",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	deps.PollService = pollService
	deps.VisitorIssuer = issuer
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, db
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", recorder.Code)
	}
}

func TestCreatePollReturnsIdentifier(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/polls",
		`{"question":"Best color?","options":["Red","Blue"]}`, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["poll_id"] == "" || payload["poll_id"] == nil {
		t.Fatalf("expected poll_id in response, got %v", payload)
	}
}

func TestCreatePollValidationErrors(t *testing.T) {
	handler := newTestHandler(t)

	tests := []struct {
		name         string
		body         string
		expectedCode string
	}{
		{name: "malformed-json", body: `{"question":`, expectedCode: "invalid_request"},
		{name: "empty-question", body: `{"question":"","options":["A","B"]}`, expectedCode: "invalid_question"},
		{name: "single-option", body: `{"question":"Q?","options":["A"]}`, expectedCode: "not_enough_options"},
		{name: "blank-options", body: `{"question":"Q?","options":["A","  "]}`, expectedCode: "not_enough_options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := doJSON(t, handler, http.MethodPost, "/polls", tt.body, nil)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected bad request status, got %d", recorder.Code)
			}
			payload := decodeBody(t, recorder)
			if payload["error"] != tt.expectedCode {
				t.Fatalf("expected error %q, got %v", tt.expectedCode, payload["error"])
			}
		})
	}
}

func TestGetPollNotFound(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/polls/unknown-poll", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found status, got %d", recorder.Code)
	}
}

func TestListPollsRejectsInvalidLimit(t *testing.T) {
	handler := newTestHandler(t)

	for _, limit := range []string{"abc", "0", "-5", "101"} {
		recorder := doJSON(t, handler, http.MethodGet, "/polls?limit="+limit, "", nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected bad request for limit %q, got %d", limit, recorder.Code)
		}
	}
}

func TestVisitorCookieIsIssuedOnceAndReused(t *testing.T) {
	handler := newTestHandler(t)

	first := doJSON(t, handler, http.MethodGet, "/polls", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", first.Code)
	}
	cookies := first.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected a visitor cookie on first contact")
	}

	second := doJSON(t, handler, http.MethodGet, "/polls", "", cookies)
	if second.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", second.Code)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatalf("expected no reissued cookie for a valid visitor token")
	}
}

func TestVoteFlowThroughAPI(t *testing.T) {
	handler := newTestHandler(t)

	created := doJSON(t, handler, http.MethodPost, "/polls",
		`{"question":"Best color?","options":["Red","Blue"]}`, nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected created status, got %d", created.Code)
	}
	pollID := decodeBody(t, created)["poll_id"].(string)
	visitorCookies := created.Result().Cookies()

	detail := doJSON(t, handler, http.MethodGet, "/polls/"+pollID, "", visitorCookies)
	if detail.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", detail.Code)
	}
	detailPayload := decodeBody(t, detail)
	if detailPayload["has_voted"] != false {
		t.Fatalf("expected has_voted false before voting, got %v", detailPayload["has_voted"])
	}
	options := detailPayload["poll"].(map[string]any)["options"].([]any)
	redOption := options[0].(map[string]any)["id"].(string)

	voted := doJSON(t, handler, http.MethodPost, "/polls/"+pollID+"/votes",
		`{"option_id":"`+redOption+`"}`, visitorCookies)
	if voted.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", voted.Code, voted.Body.String())
	}
	if decodeBody(t, voted)["counted"] != true {
		t.Fatalf("expected first vote to be counted")
	}

	repeat := doJSON(t, handler, http.MethodPost, "/polls/"+pollID+"/votes",
		`{"option_id":"`+redOption+`"}`, visitorCookies)
	if decodeBody(t, repeat)["counted"] != false {
		t.Fatalf("expected repeat vote to be rejected")
	}

	detail = doJSON(t, handler, http.MethodGet, "/polls/"+pollID, "", visitorCookies)
	detailPayload = decodeBody(t, detail)
	if detailPayload["has_voted"] != true {
		t.Fatalf("expected has_voted true after voting")
	}
	if detailPayload["vote_choice"] != redOption {
		t.Fatalf("expected vote_choice %q, got %v", redOption, detailPayload["vote_choice"])
	}
	votedOption := detailPayload["poll"].(map[string]any)["options"].([]any)[0].(map[string]any)
	if votedOption["vote_count"].(float64) != 1 {
		t.Fatalf("expected vote count 1, got %v", votedOption["vote_count"])
	}
}

func TestVoteRejectsMissingOptionID(t *testing.T) {
	handler := newTestHandler(t)

	created := doJSON(t, handler, http.MethodPost, "/polls",
		`{"question":"Q?","options":["A","B"]}`, nil)
	pollID := decodeBody(t, created)["poll_id"].(string)

	recorder := doJSON(t, handler, http.MethodPost, "/polls/"+pollID+"/votes", `{}`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "invalid_option_id" {
		t.Fatalf("unexpected error body: %s", recorder.Body.String())
	}
}

func TestUpvoteFlowThroughAPI(t *testing.T) {
	handler := newTestHandler(t)

	created := doJSON(t, handler, http.MethodPost, "/polls",
		`{"question":"Q?","options":["A","B"]}`, nil)
	pollID := decodeBody(t, created)["poll_id"].(string)
	visitorCookies := created.Result().Cookies()

	first := doJSON(t, handler, http.MethodPost, "/polls/"+pollID+"/upvotes", "", visitorCookies)
	if first.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", first.Code)
	}
	if decodeBody(t, first)["counted"] != true {
		t.Fatalf("expected first upvote to be counted")
	}

	repeat := doJSON(t, handler, http.MethodPost, "/polls/"+pollID+"/upvotes", "", visitorCookies)
	if decodeBody(t, repeat)["counted"] != false {
		t.Fatalf("expected repeat upvote to be rejected")
	}

	detail := doJSON(t, handler, http.MethodGet, "/polls/"+pollID, "", visitorCookies)
	payload := decodeBody(t, detail)
	if payload["has_upvoted"] != true {
		t.Fatalf("expected has_upvoted true after upvoting")
	}
	if payload["poll"].(map[string]any)["upvote_count"].(float64) != 1 {
		t.Fatalf("expected upvote_count 1, got %v", payload["poll"].(map[string]any)["upvote_count"])
	}
}

func TestVoteOnUnknownPollIsNotCounted(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/polls/unknown/votes", `{"option_id":"opt"}`, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["counted"] != false {
		t.Fatalf("expected vote on unknown poll to be uncounted")
	}
}

func TestFeedOrdersUpvotedPollsFirst(t *testing.T) {
	handler := newTestHandler(t)

	quiet := doJSON(t, handler, http.MethodPost, "/polls",
		`{"question":"quiet","options":["A","B"]}`, nil)
	quietID := decodeBody(t, quiet)["poll_id"].(string)

	popular := doJSON(t, handler, http.MethodPost, "/polls",
		`{"question":"popular","options":["A","B"]}`, nil)
	popularID := decodeBody(t, popular)["poll_id"].(string)

	upvote := doJSON(t, handler, http.MethodPost, "/polls/"+popularID+"/upvotes", "", popular.Result().Cookies())
	if decodeBody(t, upvote)["counted"] != true {
		t.Fatalf("expected upvote to be counted")
	}

	feed := doJSON(t, handler, http.MethodGet, "/polls", "", nil)
	pollsPayload := decodeBody(t, feed)["polls"].([]any)
	if len(pollsPayload) != 2 {
		t.Fatalf("expected 2 polls in feed, got %d", len(pollsPayload))
	}
	if pollsPayload[0].(map[string]any)["id"] != popularID {
		t.Fatalf("expected upvoted poll first in feed")
	}
	if pollsPayload[1].(map[string]any)["id"] != quietID {
		t.Fatalf("expected quiet poll second in feed")
	}
}

func TestStorageFailureReturnsServiceErrorCode(t *testing.T) {
	handler, db := newTestHandlerWithDatabase(t, Dependencies{})

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close database: %v", err)
	}

	recorder := doJSON(t, handler, http.MethodGet, "/polls", "", nil)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal server error status, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["error"] != "list_failed" {
		t.Fatalf("expected list_failed error, got %v", payload["error"])
	}
	if payload["code"] != "polls.list_polls.query_failed" {
		t.Fatalf("expected service error code in body, got %v", payload["code"])
	}
}

func TestVisitorCookieSecureFlagFollowsConfiguration(t *testing.T) {
	plain := newTestHandler(t)
	recorder := doJSON(t, plain, http.MethodGet, "/polls", "", nil)
	cookies := recorder.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected a visitor cookie")
	}
	if cookies[0].Secure {
		t.Fatalf("expected plain cookie by default")
	}

	secure, _ := newTestHandlerWithDatabase(t, Dependencies{SecureCookies: true})
	recorder = doJSON(t, secure, http.MethodGet, "/polls", "", nil)
	cookies = recorder.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected a visitor cookie")
	}
	if !cookies[0].Secure {
		t.Fatalf("expected Secure cookie when configured")
	}
}
