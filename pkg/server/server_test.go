package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v45/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/config"
	"github.com/your-org/repo-governor/pkg/models"
	"github.com/your-org/repo-governor/pkg/rules"
	"github.com/your-org/repo-governor/pkg/scan"
)

const webhookSecret = "test-webhook-secret"

const registryYAML = `
default_profile: baseline
workloads:
  - name: api
    repository: acme/api
  - name: worker
    repository: acme/worker
`

const profileYAML = `
profile: baseline
version: "2026.1"
rules:
  - id: readme-present
    category: files
    severity: medium
    weight: 100
    description: Repository must have a README
    when:
      field: files.has_readme
      operator: eq
      value: true
`

type stubFacts struct {
	mu   sync.Mutex
	errs map[string]error
}

func (s *stubFacts) Fetch(ctx context.Context, owner, repo string) (*models.RepositoryFacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[owner+"/"+repo]; ok {
		return nil, err
	}
	return &models.RepositoryFacts{
		Settings:         &models.SettingsFacts{DefaultBranch: "main"},
		BranchProtection: &models.BranchProtectionFacts{Enabled: true},
		Files:            &models.FileFacts{HasReadme: true},
		Workflows:        &models.WorkflowFacts{},
		Security:         &models.SecurityFacts{},
	}, nil
}

type stubRules struct{ rs *rules.RuleSet }

func (s *stubRules) Get(profile string) (*rules.RuleSet, error) { return s.rs, nil }

type stubStore struct {
	mu      sync.Mutex
	saved   []*models.ScanResult
	latest  map[string]*models.ScanResult
	trend   map[string][]models.ScorePoint
	savedCh chan string
}

func (s *stubStore) SaveScanResult(ctx context.Context, result *models.ScanResult) error {
	s.mu.Lock()
	s.saved = append(s.saved, result)
	s.mu.Unlock()
	if s.savedCh != nil {
		s.savedCh <- result.Workload
	}
	return nil
}

func (s *stubStore) LatestResult(ctx context.Context, workload string, asOf *time.Time) (*models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.latest[workload]; ok {
		return r, nil
	}
	return nil, &models.NotFoundError{Resource: "scan results for workload " + workload}
}

func (s *stubStore) ScoreTrend(ctx context.Context, workload string, from, to time.Time) ([]models.ScorePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trend[workload], nil
}

func (s *stubStore) Workloads(ctx context.Context) ([]string, error) { return nil, nil }

func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T, facts *stubFacts, st *stubStore) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rs, err := rules.ParseRuleSet([]byte(profileYAML), "test")
	require.NoError(t, err)
	registry, err := config.ParseRegistry([]byte(registryYAML), "test")
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	orch := scan.NewOrchestrator(facts, &stubRules{rs: rs}, st, 2, logger, nil)
	return New(orch, registry, st, webhookSecret, logger, nil)
}

func signedWebhookRequest(t *testing.T, event string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", sig)
	return req
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScanOneEndpointPersistsAndReturnsResult(t *testing.T) {
	st := &stubStore{}
	srv := newTestServer(t, &stubFacts{}, st)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/api", nil))

	require.Equal(t, http.StatusCreated, w.Code)

	var result models.ScanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "api", result.Workload)
	assert.Equal(t, 100, result.Score.Overall)
	assert.Len(t, st.saved, 1)
}

func TestScanOneEndpointUnknownWorkload(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/ghost", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScanOneEndpointMapsRateLimit(t *testing.T) {
	facts := &stubFacts{errs: map[string]error{
		"acme/api": &models.RateLimitExceeded{ResetAt: time.Now().Add(90 * time.Second)},
	}}
	srv := newTestServer(t, facts, &stubStore{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/api", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestScanAllEndpointReportsPartialFailure(t *testing.T) {
	facts := &stubFacts{errs: map[string]error{
		"acme/worker": &models.NotFoundError{Resource: "acme/worker"},
	}}
	st := &stubStore{}
	srv := newTestServer(t, facts, st)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans", nil))

	require.Equal(t, http.StatusCreated, w.Code)

	var report models.BatchReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.SucceededCount())
	require.Equal(t, 1, report.FailedCount())
	assert.Equal(t, "worker", report.Failed[0].Workload)
}

func TestScanAllEndpointHonorsWorkloadFilter(t *testing.T) {
	st := &stubStore{}
	srv := newTestServer(t, &stubFacts{}, st)

	body := bytes.NewReader([]byte(`{"workloads":["api"]}`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var report models.BatchReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.SucceededCount())
	assert.Equal(t, 0, report.FailedCount())
	require.Len(t, st.saved, 1)
	assert.Equal(t, "api", st.saved[0].Workload)
}

func TestScanAllEndpointRejectsUnknownFilterName(t *testing.T) {
	st := &stubStore{}
	srv := newTestServer(t, &stubFacts{}, st)

	body := bytes.NewReader([]byte(`{"workloads":["api","ghost"]}`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, st.saved)
}

func TestScanAllEndpointRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	body := bytes.NewReader([]byte(`{"workloads":`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListWorkloads(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workloads", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Workloads []models.Workload `json:"workloads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Workloads, 2)
	assert.Equal(t, "baseline", body.Workloads[0].Profile)
}

func TestReportEndpoint(t *testing.T) {
	st := &stubStore{latest: map[string]*models.ScanResult{
		"api": {ID: "abc", Workload: "api", Score: models.ComplianceScore{Overall: 80, Status: models.StatusPartial}},
	}}
	srv := newTestServer(t, &stubFacts{}, st)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workloads/api/report", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var result models.ScanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 80, result.Score.Overall)
}

func TestReportEndpointNoHistory(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workloads/api/report", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportEndpointRejectsBadAsOf(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workloads/api/report?as_of=yesterday", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrendEndpoint(t *testing.T) {
	st := &stubStore{trend: map[string][]models.ScorePoint{
		"api": {
			{ScannedAt: time.Now().Add(-48 * time.Hour), Overall: 60, Status: models.StatusPartial},
			{ScannedAt: time.Now().Add(-24 * time.Hour), Overall: 85, Status: models.StatusPartial},
		},
	}}
	srv := newTestServer(t, &stubFacts{}, st)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workloads/api/trend", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Workload string              `json:"workload"`
		Points   []models.ScorePoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "api", body.Workload)
	assert.Len(t, body.Points, 2)
}

func TestTrendEndpointRejectsInvertedRange(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	url := "/api/v1/workloads/api/trend?from=2026-08-01T00:00:00Z&to=2026-07-01T00:00:00Z"
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	body := []byte(`{"zen":"test"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookPushTriggersScan(t *testing.T) {
	st := &stubStore{savedCh: make(chan string, 1)}
	srv := newTestServer(t, &stubFacts{}, st)

	event := github.PushEvent{
		Repo: &github.PushEventRepository{FullName: github.String("acme/api")},
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, signedWebhookRequest(t, "push", event))

	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case workload := <-st.savedCh:
		assert.Equal(t, "api", workload)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook did not trigger a scan")
	}
}

func TestWebhookUnregisteredRepositoryIsAcked(t *testing.T) {
	st := &stubStore{}
	srv := newTestServer(t, &stubFacts{}, st)

	event := github.PushEvent{
		Repo: &github.PushEventRepository{FullName: github.String("acme/unknown")},
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, signedWebhookRequest(t, "push", event))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, st.saved)
}

func TestWebhookPingAnswersPong(t *testing.T) {
	srv := newTestServer(t, &stubFacts{}, &stubStore{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, signedWebhookRequest(t, "ping", github.PingEvent{Zen: github.String("ok")}))

	assert.Equal(t, http.StatusOK, w.Code)
}
