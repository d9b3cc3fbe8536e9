// Package server exposes the governance engine over HTTP: scan triggers,
// compliance reports, trend queries and the GitHub webhook receiver.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/config"
	"github.com/your-org/repo-governor/pkg/models"
	"github.com/your-org/repo-governor/pkg/scan"
	"github.com/your-org/repo-governor/pkg/store"
)

// scanTimeout bounds webhook-triggered background scans, which run
// detached from the request context.
const scanTimeout = 5 * time.Minute

type Server struct {
	orch          *scan.Orchestrator
	registry      *config.Registry
	store         store.ResultStore
	webhookSecret []byte
	logger        *zap.SugaredLogger
	gatherer      prometheus.Gatherer
}

func New(orch *scan.Orchestrator, registry *config.Registry, resultStore store.ResultStore, webhookSecret string, logger *zap.SugaredLogger, gatherer prometheus.Gatherer) *Server {
	return &Server{
		orch:          orch,
		registry:      registry,
		store:         resultStore,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
		gatherer:      gatherer,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/webhook/github", s.handleWebhook)

	api := r.Group("/api/v1")
	{
		api.POST("/scans", s.handleScanAll)
		api.POST("/scans/:workload", s.handleScanOne)
		api.GET("/workloads", s.handleListWorkloads)
		api.GET("/workloads/:workload/report", s.handleReport)
		api.GET("/workloads/:workload/trend", s.handleTrend)
	}

	return r
}

func (s *Server) handleScanOne(c *gin.Context) {
	name := c.Param("workload")
	workload, ok := s.registry.Lookup(name)
	if !ok {
		respondError(c, &models.NotFoundError{Resource: "workload " + name})
		return
	}

	result, err := s.orch.ScanOne(c.Request.Context(), workload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// handleScanAll triggers a batch scan. The optional JSON body narrows
// the batch to the named workloads; without it the whole fleet is
// scanned.
func (s *Server) handleScanAll(c *gin.Context) {
	var req struct {
		Workloads []string `json:"workloads"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, &models.ValidationError{Field: "workloads", Reason: "body must be JSON with an optional workloads list"})
			return
		}
	}

	workloads := s.registry.All()
	if len(req.Workloads) > 0 {
		selected := make([]models.Workload, 0, len(req.Workloads))
		for _, name := range req.Workloads {
			w, ok := s.registry.Lookup(name)
			if !ok {
				respondError(c, &models.NotFoundError{Resource: "workload " + name})
				return
			}
			selected = append(selected, w)
		}
		workloads = selected
	}

	report := s.orch.ScanAll(c.Request.Context(), workloads)
	status := http.StatusCreated
	if report.SucceededCount() == 0 && report.FailedCount() > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, report)
}

func (s *Server) handleListWorkloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workloads": s.registry.All()})
}

func (s *Server) handleReport(c *gin.Context) {
	name := c.Param("workload")
	if _, ok := s.registry.Lookup(name); !ok {
		respondError(c, &models.NotFoundError{Resource: "workload " + name})
		return
	}

	var asOf *time.Time
	if raw := c.Query("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, &models.ValidationError{Field: "as_of", Reason: "must be RFC 3339"})
			return
		}
		asOf = &t
	}

	result, err := s.store.LatestResult(c.Request.Context(), name, asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTrend(c *gin.Context) {
	name := c.Param("workload")
	if _, ok := s.registry.Lookup(name); !ok {
		respondError(c, &models.NotFoundError{Resource: "workload " + name})
		return
	}

	from, err := parseTimeQuery(c, "from", time.Now().AddDate(0, -1, 0))
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := parseTimeQuery(c, "to", time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	if to.Before(from) {
		respondError(c, &models.ValidationError{Field: "to", Reason: "must not precede from"})
		return
	}

	points, err := s.store.ScoreTrend(c.Request.Context(), name, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if points == nil {
		points = []models.ScorePoint{}
	}
	c.JSON(http.StatusOK, gin.H{"workload": name, "points": points})
}

func parseTimeQuery(c *gin.Context, key string, fallback time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: key, Reason: "must be RFC 3339"}
	}
	return t, nil
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		notFound   *models.NotFoundError
		authErr    *models.AuthError
		rateErr    *models.RateLimitExceeded
		validErr   *models.ValidationError
		cfgErr     *models.ConfigError
		persistErr *models.PersistenceError
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &authErr):
		c.JSON(http.StatusForbidden, gin.H{"error": authErr.Error()})
	case errors.As(err, &rateErr):
		retryAfter := int(rateErr.RetryAfter(time.Now()).Seconds())
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": rateErr.Error()})
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": cfgErr.Error()})
	case errors.As(err, &persistErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("internal error: %v", err)})
	}
}
