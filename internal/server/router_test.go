package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/g-sync/gsync/internal/report"
	"github.com/g-sync/gsync/internal/server"
)

type stubStatsProvider struct {
	summary report.RunSummary
	err     error
}

func (provider *stubStatsProvider) Stats(ctx context.Context) (report.RunSummary, error) {
	return provider.summary, provider.err
}

func TestNewRouterRequiresStatsProvider(t *testing.T) {
	if _, err := server.NewRouter(server.RouterConfig{}); err == nil {
		t.Fatal("expected an error without a stats provider")
	}
}

func TestServeStats(t *testing.T) {
	provider := &stubStatsProvider{
		summary: report.RunSummary{Followers: 12, Following: 9, Mutual: 7},
	}
	router, err := server.NewRouter(server.RouterConfig{Stats: provider})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var decoded report.RunSummary
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &decoded); decodeErr != nil {
		t.Fatalf("decode response: %v", decodeErr)
	}
	if decoded.Followers != 12 || decoded.Following != 9 || decoded.Mutual != 7 {
		t.Fatalf("unexpected summary %+v", decoded)
	}
}

func TestServeStatsFailure(t *testing.T) {
	provider := &stubStatsProvider{err: errors.New("upstream unavailable")}
	router, err := server.NewRouter(server.RouterConfig{Stats: provider})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, err := server.NewRouter(server.RouterConfig{Stats: &stubStatsProvider{}})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
