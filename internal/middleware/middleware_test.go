package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/troy12x/si-copilot/internal/apperr"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret string, userID uuid.UUID, expires time.Time) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		Email:  "a@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			Subject:   userID.String(),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func authRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Auth(secret))
	r.GET("/me", func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user": id, "session": GetSessionID(c)})
	})
	return r
}

func TestAuth(t *testing.T) {
	userID := uuid.New()
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + signToken(t, "s3cret", userID, time.Now().Add(time.Hour)), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", userID, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, "s3cret", userID, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req.Header.Set(SessionHeader, "sess-1")
			w := httptest.NewRecorder()
			authRouter("s3cret").ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if w.Header().Get(RequestIDHeader) == "" {
				t.Error("Expected a request id header")
			}
			if tt.status != http.StatusOK {
				return
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["user"] != userID.String() || body["session"] != "sess-1" {
				t.Errorf("Unexpected body: %v", body)
			}
		})
	}
}

func TestRespondAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Validation("Missing required fields"), http.StatusBadRequest, "REQUEST_VALIDATION"},
		{apperr.RateLimited(errors.New("429")), http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED"},
		{apperr.NotFound("dataset"), http.StatusNotFound, "NOT_FOUND"},
		{errors.New("pool exhausted"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		RespondAppError(c, tt.err)

		var body struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if w.Code != tt.status || body.Error.Code != tt.code {
			t.Errorf("%v: expected %d %s, got %d %s", tt.err, tt.status, tt.code, w.Code, body.Error.Code)
		}
		if tt.code == "INTERNAL_ERROR" && body.Error.Message != "internal server error" {
			t.Errorf("Expected internal message to be hidden, got %q", body.Error.Message)
		}
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreakerWithConfig("test", 2, 1, time.Minute)
	cb.now = func() time.Time { return now }

	var transitions []string
	cb.OnStateChange = func(_ string, from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	cb.RecordFailure()
	if !cb.Allow() {
		t.Fatal("Expected closed breaker to allow after one failure")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("Expected open breaker to reject")
	}

	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatal("Expected half-open breaker to allow a probe")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("Expected closed, got %s", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreakersPerProvider(t *testing.T) {
	b := NewBreakers(func(name string) *CircuitBreaker {
		return NewCircuitBreakerWithConfig(name, 1, 1, time.Hour)
	})
	b.For("togetherAI").RecordFailure()
	if b.For("togetherAI").Allow() {
		t.Error("Expected togetherAI breaker open")
	}
	if !b.For("veniceAI").Allow() {
		t.Error("Expected veniceAI breaker to be independent")
	}
	states := b.States()
	if states["togetherAI"] != "open" || states["veniceAI"] != "closed" {
		t.Errorf("Unexpected states: %v", states)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter("test", 2, 1, time.Minute)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), RateLimitMiddleware(rl))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
		if i == 0 && w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("Expected limit header 2, got %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Unexpected status sequence: %v", codes)
	}
}

func TestRateLimiterRefillAndSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter("test", 2, 1, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatal("Expected the first two requests to pass")
	}
	if rl.Allow("u") {
		t.Fatal("Expected the bucket to be empty")
	}

	now = now.Add(90 * time.Second)
	if got := rl.Remaining("u"); got != 1 {
		t.Errorf("Remaining after one refill = %d, want 1", got)
	}
	if n := rl.Sweep(); n != 0 {
		t.Errorf("Sweep removed %d buckets before they were idle", n)
	}

	now = now.Add(2 * time.Minute)
	if n := rl.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d buckets, want 1", n)
	}
	if got := rl.Remaining("u"); got != 2 {
		t.Errorf("Remaining for a swept caller = %d, want 2", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"any origin", nil, "http://localhost:3000", http.StatusNoContent, "*"},
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.allowed))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodOptions, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}
