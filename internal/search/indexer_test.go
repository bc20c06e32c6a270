package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/statemachine"
)

type recorded struct {
	method string
	path   string
	body   map[string]interface{}
}

// fakeCluster answers like an Elasticsearch node and records requests.
type fakeCluster struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	reply    string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recorded{method: r.Method, path: r.URL.Path}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	status, reply := f.status, f.reply
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if reply == "" {
		reply = `{}`
	}
	_, _ = w.Write([]byte(reply))
}

func (f *fakeCluster) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newIndexer(t *testing.T, cluster *fakeCluster) *Indexer {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewIndexer(client, "loan-applications", logger.NewTestLogger(t))
}

func sampleApp() *models.LoanApplication {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return &models.LoanApplication{
		ID:             "app-1",
		UserID:         "user-1",
		Country:        country.Malaysia,
		Amount:         5000,
		Months:         12,
		MonthlyPayment: 437.5,
		Status:         models.StatusMatchingLender,
		Document:       &models.DocumentAnalysisResult{DocumentType: "Payslip", EmployerName: "Acme", FraudRiskScore: 64},
		Verification:   &models.VerificationResult{IsMatch: true, ExtractedName: "AISYAH"},
		Signed:         true,
		SubmittedAt:    at,
		UpdatedAt:      at,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestIndexer_Index(t *testing.T) {
	cluster := &fakeCluster{reply: `{"result":"created"}`}
	idx := newIndexer(t, cluster)

	require.NoError(t, idx.Index(context.Background(), sampleApp()))

	req := cluster.last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/loan-applications/_doc/app-1", req.path)
	assert.Equal(t, "MATCHING_LENDER", req.body["status"])
	assert.Equal(t, true, req.body["highRisk"])
	assert.Equal(t, 64.0, req.body["fraudRiskScore"])
	assert.Equal(t, "AISYAH", req.body["extractedName"])
}

func TestIndexer_Search(t *testing.T) {
	cluster := &fakeCluster{reply: `{"took":3,"hits":{"total":{"value":2},"hits":[
		{"_id":"app-2","_source":{"id":"app-2"}},
		{"_id":"app-1","_source":{}}]}}`}
	idx := newIndexer(t, cluster)

	res, err := idx.Search(context.Background(), models.ApplicationFilter{
		Status: models.StatusMatchingLender, Country: "my", Query: "acme", HighRiskOnly: true, Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app-2", "app-1"}, res.IDs)
	assert.Equal(t, int64(2), res.Total)
	assert.Equal(t, 3, res.Took)

	req := cluster.last()
	assert.Equal(t, "/loan-applications/_search", req.path)
	assert.Equal(t, 10.0, req.body["size"])
	query := req.body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := query["filter"].([]interface{})
	assert.Len(t, filters, 3)
	assert.Contains(t, filters, map[string]interface{}{"term": map[string]interface{}{"country": "MY"}})
}

func TestIndexer_ObserverIndexes(t *testing.T) {
	cluster := &fakeCluster{}
	idx := newIndexer(t, cluster)

	idx.ApplicationChanged(context.Background(), sampleApp(), statemachine.EventContractSigned)
	assert.Equal(t, "/loan-applications/_doc/app-1", cluster.last().path)
}

func TestIndexer_EnsureIndexCreatesWhenMissing(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusNotFound}
	idx := newIndexer(t, cluster)

	// The create call also gets 404 here; only the request shape matters.
	_ = idx.EnsureIndex(context.Background())

	req := cluster.last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/loan-applications", req.path)
	assert.Contains(t, req.body, "mappings")
}

// ==========================
// Error Handling Tests
// ==========================

func TestIndexer_ErrorsAreSearchFailures(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusInternalServerError, reply: `{"error":"boom"}`}
	idx := newIndexer(t, cluster)

	err := idx.Index(context.Background(), sampleApp())
	assert.True(t, errors.IsCode(err, errors.ErrCodeSearchQueryFailed))

	_, err = idx.Search(context.Background(), models.ApplicationFilter{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSearchQueryFailed))

	assert.NotPanics(t, func() {
		idx.ApplicationChanged(context.Background(), sampleApp(), statemachine.EventApprove)
	})
}

func TestBuildApplicationQuery_Defaults(t *testing.T) {
	q := buildApplicationQuery(models.ApplicationFilter{})

	assert.Equal(t, models.DefaultListLimit, q["size"])
	assert.Equal(t, 0, q["from"])
	boolQuery := q["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.NotContains(t, boolQuery, "filter")
	assert.Equal(t, []interface{}{map[string]interface{}{"match_all": map[string]interface{}{}}}, boolQuery["must"])
}
