package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptum-bot/internal/adaptive"
	"cryptum-bot/internal/breaker"
	"cryptum-bot/internal/database"
	"cryptum-bot/internal/ledger"
	"cryptum-bot/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type fakeBackend struct {
	cfg        *database.TradingConfig
	snapshot   *ledger.Snapshot
	cycleErr   error
	breakerErr error
}

func (f *fakeBackend) GetTradingConfig(ctx context.Context, userID string) (*database.TradingConfig, error) {
	if f.cfg == nil {
		return nil, database.ErrNoTradingConfig
	}
	return f.cfg, nil
}

func (f *fakeBackend) ComputeSnapshot(ctx context.Context, userID string) (*ledger.Snapshot, error) {
	if f.snapshot == nil {
		return nil, database.ErrNoDailyStats
	}
	return f.snapshot, nil
}

func (f *fakeBackend) CheckRecentPerformance(ctx context.Context, userID string) (breaker.Assessment, error) {
	if f.breakerErr != nil {
		return breaker.Assessment{}, f.breakerErr
	}
	return breaker.Assessment{Level: breaker.LevelOK}, nil
}

func (f *fakeBackend) MaybeAdjust(ctx context.Context, userID string) (*adaptive.Adjustment, error) {
	return nil, nil
}

func (f *fakeBackend) RunCycle(ctx context.Context, rc orchestrator.RunContext) (*orchestrator.CycleReport, error) {
	if f.cycleErr != nil {
		return nil, f.cycleErr
	}
	return &orchestrator.CycleReport{UserID: rc.UserID}, nil
}

func testRouter(backend *fakeBackend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	rc := orchestrator.RunContext{UserID: "user-1", Demo: true}
	h := NewHandlers(rc, backend, backend, backend, backend, backend, zerolog.Nop())

	engine := gin.New()
	engine.GET("/api/status", h.Status)
	engine.GET("/api/v1/snapshot", h.Snapshot)
	engine.GET("/api/v1/circuit-breaker", h.CircuitBreaker)
	engine.POST("/api/v1/cycle", h.TriggerCycle)
	return engine
}

func TestStatusReportsRunningState(t *testing.T) {
	backend := &fakeBackend{cfg: &database.TradingConfig{UserID: "user-1", IsActive: true}}
	router := testRouter(backend)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["is_running"] != true {
		t.Errorf("is_running = %v, want true", body["is_running"])
	}
}

func TestStatusIsFalseWithoutConfig(t *testing.T) {
	router := testRouter(&fakeBackend{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["is_running"] != false {
		t.Errorf("is_running = %v, want false", body["is_running"])
	}
}

func TestSnapshotMissingStatsIs404(t *testing.T) {
	router := testRouter(&fakeBackend{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", w.Code)
	}
}

func TestCircuitBreakerMissingStatsIs404(t *testing.T) {
	router := testRouter(&fakeBackend{breakerErr: database.ErrNoDailyStats})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/circuit-breaker", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", w.Code)
	}
}

func TestTriggerCycleCooldownIs429(t *testing.T) {
	router := testRouter(&fakeBackend{cycleErr: orchestrator.ErrCooldownActive})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/cycle", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status code = %d, want 429", w.Code)
	}
}
