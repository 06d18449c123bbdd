// Package server exposes the read-only stats mode over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/g-sync/gsync/internal/report"
)

const (
	statsRoutePath              = "/"
	healthRoutePath             = "/healthz"
	errorMessageStatsFailure    = "stats computation failed"
	healthStatusKey             = "status"
	healthStatusOK              = "ok"
	logMessageStatsFailure      = "stats computation failure"
	ginModeRelease              = "release"
	statsSingleflightKey        = "stats"
	errMessageMissingStatsValue = "missing stats provider"
)

// StatsProvider computes a run summary without executing any actions.
type StatsProvider interface {
	Stats(ctx context.Context) (report.RunSummary, error)
}

// RouterConfig configures the HTTP routing for stats requests.
type RouterConfig struct {
	Stats  StatsProvider
	Logger *zap.Logger
}

// NewRouter constructs a Gin engine serving the current run summary as JSON.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	if configuration.Stats == nil {
		return nil, errors.New(errMessageMissingStatsValue)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := statsHandler{
		stats:  configuration.Stats,
		logger: logger,
	}

	engine.GET(statsRoutePath, handler.serveStats)
	engine.GET(healthRoutePath, handler.healthStatus)

	return engine, nil
}

type statsHandler struct {
	stats       StatsProvider
	logger      *zap.Logger
	flightGroup singleflight.Group
}

// serveStats computes the summary on demand. Concurrent requests share one
// upstream snapshot fetch.
func (handler *statsHandler) serveStats(ginContext *gin.Context) {
	summaryValue, err, _ := handler.flightGroup.Do(statsSingleflightKey, func() (interface{}, error) {
		return handler.stats.Stats(ginContext.Request.Context())
	})
	if err != nil {
		handler.logger.Error(logMessageStatsFailure, zap.Error(err))
		ginContext.String(http.StatusInternalServerError, errorMessageStatsFailure)
		return
	}
	summary, _ := summaryValue.(report.RunSummary)
	ginContext.JSON(http.StatusOK, summary)
}

func (handler *statsHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}
