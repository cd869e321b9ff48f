package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/economics"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/orchestrator"
	"github.com/troy12x/si-copilot/internal/runs"
	"github.com/troy12x/si-copilot/internal/scratch"
	"github.com/troy12x/si-copilot/internal/store"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeGenerator returns numSamples records partitioned across the splits, or err
type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
	gate  chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return models.GenerationResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return models.GenerationResult{}, err
	}
	records := make([]models.Record, cfg.NumSamples)
	for i := range records {
		records[i] = models.Record{"input": "q", "output": "a"}
	}
	return models.GenerationResult{
		Splits:     generation.Partition(records, cfg.Splits),
		TokenUsage: models.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func (f *fakeGenerator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testConfig(n int) models.DatasetConfig {
	return models.DatasetConfig{
		UseCase:    "math tutoring questions",
		Template:   "Ask about {{topic}}",
		Columns:    []models.ColumnDefinition{{Name: "input", Type: models.ColumnString}, {Name: "output", Type: models.ColumnString}},
		NumSamples: n,
		Model:      "llama-3.2-3b",
		Provider:   "veniceAI",
		Splits:     []models.Split{{Name: "train", Percentage: 80}, {Name: "test", Percentage: 20}},
	}
}

func bearer(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	claims := middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Subject:   userID.String(),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + s
}

func doJSON(t *testing.T, r http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestGenerateEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		cfg    models.DatasetConfig
		status int
		code   string
	}{
		{"success", nil, testConfig(5), http.StatusOK, ""},
		{"missing fields", nil, models.DatasetConfig{NumSamples: 1}, http.StatusBadRequest, "REQUEST_VALIDATION"},
		{"rate limited", apperr.RateLimited(errors.New("429 Too Many Requests")), testConfig(5), http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED"},
		{"unsupported provider", apperr.UnsupportedProvider("x"), testConfig(5), http.StatusBadRequest, "UNSUPPORTED_PROVIDER"},
		{"upstream failure", apperr.UpstreamCall(errors.New("boom")), testConfig(5), http.StatusBadGateway, "UPSTREAM_CALL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewGenerationHandler(&fakeGenerator{err: tt.err}, zap.NewNop())
			r := gin.New()
			r.POST(orchestrator.GeneratePath, h.Generate)

			w := doJSON(t, r, http.MethodPost, orchestrator.GeneratePath, "", tt.cfg)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK {
				body := decode[struct {
					Dataset models.GenerationResult `json:"dataset"`
				}](t, w)
				if len(body.Dataset.Records("train")) != 4 || len(body.Dataset.Records("test")) != 1 {
					t.Errorf("Unexpected dataset: %+v", body.Dataset)
				}
				return
			}
			body := decode[generateError](t, w)
			if body.Code != tt.code || body.Error == "" {
				t.Errorf("Unexpected error body: %+v", body)
			}
		})
	}
}

// The batch client and the endpoint agree on the error contract
func TestGenerateEndpointWithRemoteGenerator(t *testing.T) {
	gen := &fakeGenerator{err: apperr.RateLimited(errors.New("429"))}
	r := gin.New()
	r.POST(orchestrator.GeneratePath, NewGenerationHandler(gen, zap.NewNop()).Generate)
	srv := httptest.NewServer(r)
	defer srv.Close()

	remote := orchestrator.NewRemoteGenerator(srv.URL, "", time.Second)
	if _, err := remote.Generate(context.Background(), testConfig(5)); !apperr.HasKind(err, apperr.KindUpstreamRateLimited) {
		t.Errorf("Expected rate limited, got %v", err)
	}

	gen.setErr(nil)
	res, err := remote.Generate(context.Background(), testConfig(5))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := len(res.Records("train")) + len(res.Records("test")); got != 5 {
		t.Errorf("Expected 5 records, got %d", got)
	}
}

type apiFixture struct {
	router   *gin.Engine
	repo     *store.Memory
	scratch  *scratch.Memory
	manager  *runs.Manager
	gen      *fakeGenerator
	userID   uuid.UUID
	auth     string
	otherTok string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		repo:    store.NewMemory(),
		scratch: scratch.NewMemory(),
		gen:     &fakeGenerator{},
		userID:  uuid.New(),
	}
	f.auth = bearer(t, f.userID)
	f.otherTok = bearer(t, uuid.New())

	opts := orchestrator.DefaultOptions()
	opts.BatchDelay = 0
	orch := orchestrator.New(f.gen, orchestrator.WithOptions(opts), orchestrator.WithScratch(f.scratch))
	f.manager = runs.NewManager(orch, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})

	logger := zap.NewNop()
	runsHandler := NewRunsHandler(f.manager, f.repo, f.scratch, nil, logger)
	datasets := NewDatasetsHandler(f.repo, logger)
	auth := NewAuthHandler(f.repo, f.repo, testSecret, logger)
	econ := NewEconomicsHandler(economics.NewService(nil, logger), logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", auth.Register)
	v1.POST("/auth/login", auth.Login)
	v1.GET("/models", econ.Models)

	protected := v1.Group("")
	protected.Use(middleware.Auth(testSecret))
	protected.GET("/auth/me", auth.GetCurrentUser)
	protected.POST("/sessions", auth.CreateSession)
	protected.GET("/sessions/:key/validate", auth.ValidateSession)
	protected.POST("/runs", runsHandler.Start)
	protected.GET("/runs/:id", runsHandler.Get)
	protected.POST("/runs/:id/cancel", runsHandler.Cancel)
	protected.GET("/runs/:id/stream", runsHandler.Stream)
	protected.POST("/runs/:id/save", runsHandler.Save)
	protected.GET("/scratch", runsHandler.Scratch)
	protected.GET("/datasets", datasets.List)
	protected.GET("/datasets/:id", datasets.Get)
	protected.PUT("/datasets/:id", datasets.Update)
	protected.DELETE("/datasets/:id", datasets.Delete)
	protected.GET("/datasets/:id/export", datasets.Export)
	protected.GET("/user/stats", datasets.Stats)
	protected.POST("/economics/estimate", econ.EstimateCost)
	f.router = r
	return f
}

func (f *apiFixture) wait(t *testing.T, id string) runs.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := f.manager.Wait(ctx, id, f.userID.String())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return snap
}

func TestRunLifecycleSaveAndExport(t *testing.T) {
	f := newAPIFixture(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/runs", f.auth, StartRunRequest{Config: testConfig(12), Name: "Tutor"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	started := decode[runs.Snapshot](t, w)

	final := f.wait(t, started.ID)
	if final.Status != runs.StatusCompleted {
		t.Fatalf("Expected completed, got %s", final.Status)
	}
	// 12 samples at 80/20: train 9 and test 2, one call each
	if len(final.Dataset["train"]) != 9 || len(final.Dataset["test"]) != 2 {
		t.Errorf("Unexpected split sizes: train=%d test=%d", len(final.Dataset["train"]), len(final.Dataset["test"]))
	}

	if w := doJSON(t, f.router, http.MethodGet, "/api/v1/runs/"+started.ID, f.otherTok, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected another user to get 404, got %d", w.Code)
	}

	if _, err := f.scratch.Load(context.Background(), scratch.Key("", f.userID.String())); err != nil {
		t.Fatalf("Expected a scratch snapshot before save: %v", err)
	}

	w = doJSON(t, f.router, http.MethodPost, "/api/v1/runs/"+started.ID+"/save", f.auth, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	saved := decode[models.StoredDataset](t, w)
	raw, _ := json.Marshal(final.Dataset)
	if saved.RowCount != 11 || saved.SizeBytes != len(raw) || saved.Name != "Tutor" {
		t.Errorf("Unexpected saved dataset: rows=%d size=%d name=%q", saved.RowCount, saved.SizeBytes, saved.Name)
	}
	if _, err := f.scratch.Load(context.Background(), scratch.Key("", f.userID.String())); !errors.Is(err, scratch.ErrNotFound) {
		t.Errorf("Expected scratch cleared after save, got %v", err)
	}

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/datasets", f.auth, nil)
	list := decode[struct {
		Datasets []DatasetSummary `json:"datasets"`
	}](t, w)
	if len(list.Datasets) != 1 || !cmp.Equal(list.Datasets[0].Splits, []string{"train", "test"}) {
		t.Errorf("Unexpected list: %+v", list.Datasets)
	}

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/datasets/"+saved.ID+"/export?split=test", f.auth, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "tutor_test.json") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	exported := decode[[]models.Record](t, w)
	if len(exported) != 2 || exported[0]["id"] != "test-0" {
		t.Errorf("Unexpected export: %v", exported)
	}

	if w := doJSON(t, f.router, http.MethodGet, "/api/v1/datasets/"+saved.ID+"/export?split=validation", f.auth, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown split, got %d", w.Code)
	}

	stats := decode[models.UserStats](t, doJSON(t, f.router, http.MethodGet, "/api/v1/user/stats", f.auth, nil))
	if stats.TotalDatasets != 1 || stats.TotalRows != 11 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	name := "Renamed"
	w = doJSON(t, f.router, http.MethodPut, "/api/v1/datasets/"+saved.ID, f.auth, store.DatasetUpdate{Name: &name})
	if updated := decode[models.StoredDataset](t, w); updated.Name != "Renamed" || updated.RowCount != 11 {
		t.Errorf("Unexpected update result: %+v", updated)
	}

	if w := doJSON(t, f.router, http.MethodDelete, "/api/v1/datasets/"+saved.ID, f.otherTok, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected another user's delete to 404, got %d", w.Code)
	}
	if w := doJSON(t, f.router, http.MethodDelete, "/api/v1/datasets/"+saved.ID, f.auth, nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
}

func TestStartRunValidation(t *testing.T) {
	f := newAPIFixture(t)
	cfg := testConfig(5)
	cfg.Template = ""
	w := doJSON(t, f.router, http.MethodPost, "/api/v1/runs", f.auth, StartRunRequest{Config: cfg})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if w := doJSON(t, f.router, http.MethodPost, "/api/v1/runs", "", StartRunRequest{Config: testConfig(5)}); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestSaveRunningRunRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.gen.gate = make(chan struct{})

	started := decode[runs.Snapshot](t, doJSON(t, f.router, http.MethodPost, "/api/v1/runs", f.auth, StartRunRequest{Config: testConfig(5)}))
	if w := doJSON(t, f.router, http.MethodPost, "/api/v1/runs/"+started.ID+"/save", f.auth, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 while running, got %d", w.Code)
	}

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/runs/"+started.ID+"/cancel", f.auth, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on cancel, got %d", w.Code)
	}
	if final := f.wait(t, started.ID); final.Status != runs.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", final.Status)
	}
}

func TestRunStreamWebsocket(t *testing.T) {
	f := newAPIFixture(t)
	f.gen.gate = make(chan struct{})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	started := decode[runs.Snapshot](t, doJSON(t, f.router, http.MethodPost, "/api/v1/runs", f.auth, StartRunRequest{Config: testConfig(5)}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/runs/" + started.ID + "/stream"
	header := http.Header{"Authorization": []string{f.auth}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first runs.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != runs.EventSnapshot || first.RunID != started.ID {
		t.Errorf("Unexpected first event: %+v", first)
	}

	close(f.gen.gate)

	var last runs.Event
	for {
		var ev runs.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		last = ev
	}
	if last.Type != runs.EventCompleted || last.Run == nil || last.Run.Dataset.Rows() != 5 {
		t.Errorf("Unexpected last event: %+v", last)
	}
}

func TestStreamCloseFrame(t *testing.T) {
	tests := []struct {
		name     string
		finished bool
		code     int
		reason   string
	}{
		{"run finished", true, websocket.CloseNormalClosure, "run finished"},
		{"subscriber dropped mid-run", false, websocket.CloseTryAgainLater, "stream fell behind, reconnect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason := streamCloseFrame(tt.finished)
			if code != tt.code || reason != tt.reason {
				t.Errorf("streamCloseFrame(%v) = %d %q, want %d %q", tt.finished, code, reason, tt.code, tt.reason)
			}
		})
	}
}

func TestAuthFlow(t *testing.T) {
	f := newAPIFixture(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Email: "ada@example.com", Name: "Ada", Password: "correct horse"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, f.router, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Email: "ada@example.com", Name: "Ada", Password: "correct horse"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", w.Code)
	}
	if w := doJSON(t, f.router, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "ada@example.com", Password: "wrong password"}); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", w.Code)
	}

	w = doJSON(t, f.router, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	login := decode[AuthResponse](t, w)
	token := "Bearer " + login.Token

	me := decode[models.User](t, doJSON(t, f.router, http.MethodGet, "/api/v1/auth/me", token, nil))
	if me.Email != "ada@example.com" || me.ID != login.User.ID {
		t.Errorf("Unexpected user: %+v", me)
	}

	session := decode[models.UserSession](t, doJSON(t, f.router, http.MethodPost, "/api/v1/sessions", token, nil))
	if session.SessionKey == "" {
		t.Fatal("Expected a session key")
	}
	valid := decode[map[string]bool](t, doJSON(t, f.router, http.MethodGet, "/api/v1/sessions/"+session.SessionKey+"/validate", token, nil))
	if !valid["valid"] {
		t.Error("Expected session to be valid for its owner")
	}
	valid = decode[map[string]bool](t, doJSON(t, f.router, http.MethodGet, "/api/v1/sessions/"+session.SessionKey+"/validate", f.auth, nil))
	if valid["valid"] {
		t.Error("Expected session to be invalid for another user")
	}
}

func TestEconomicsEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	list := decode[struct {
		Models []economics.Model `json:"models"`
	}](t, doJSON(t, f.router, http.MethodGet, "/api/v1/models?provider=veniceAI", "", nil))
	if len(list.Models) == 0 {
		t.Fatal("Expected veniceAI models")
	}
	for _, m := range list.Models {
		if m.Provider != "veniceAI" {
			t.Errorf("Unexpected provider %s", m.Provider)
		}
	}

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/economics/estimate", f.auth, EstimateCostRequest{Model: "llama-3.2-3b", NumSamples: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	est := decode[economics.Estimate](t, w)
	if est.Provider != models.DefaultProvider || est.Cost.TotalCost <= 0 {
		t.Errorf("Unexpected estimate: %+v", est)
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestDeepHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
		"nats":     nil,
	}, func() map[string]string { return map[string]string{"veniceAI": "closed"} })
	r := gin.New()
	r.GET("/health/deep", h.DeepHealth)

	w := doJSON(t, r, http.MethodGet, "/health/deep", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	want := map[string]string{
		"database": "healthy",
		"redis":    "unhealthy: connection refused",
		"nats":     "not configured",
	}
	if diff := cmp.Diff(want, resp.Dependencies); diff != "" {
		t.Errorf("Dependencies mismatch (-want +got):\n%s", diff)
	}
	if resp.Circuits["veniceAI"] != "closed" {
		t.Errorf("Unexpected circuits: %v", resp.Circuits)
	}
}
