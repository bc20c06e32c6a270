// Package search keeps an Elasticsearch projection of applications for the
// admin dashboard. The registry stays the source of truth.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/statemachine"
)

type document struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Country        string    `json:"country"`
	Status         string    `json:"status"`
	Amount         float64   `json:"amount"`
	Months         int       `json:"months"`
	MonthlyPayment float64   `json:"monthlyPayment"`
	FraudRiskScore float64   `json:"fraudRiskScore"`
	HighRisk       bool      `json:"highRisk"`
	DocumentType   string    `json:"documentType,omitempty"`
	EmployerName   string    `json:"employerName,omitempty"`
	ExtractedName  string    `json:"extractedName,omitempty"`
	IsMatch        bool      `json:"isMatch"`
	Signed         bool      `json:"signed"`
	SubmittedAt    time.Time `json:"submittedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toDocument(app *models.LoanApplication) document {
	d := document{
		ID:             app.ID,
		UserID:         app.UserID,
		Country:        string(app.Country),
		Status:         string(app.Status),
		Amount:         app.Amount,
		Months:         app.Months,
		MonthlyPayment: app.MonthlyPayment,
		HighRisk:       app.HighRisk(),
		Signed:         app.Signed,
		SubmittedAt:    app.SubmittedAt,
		UpdatedAt:      app.UpdatedAt,
	}
	if app.Document != nil {
		d.FraudRiskScore = app.Document.FraudRiskScore
		d.DocumentType = app.Document.DocumentType
		d.EmployerName = app.Document.EmployerName
	}
	if app.Verification != nil {
		d.ExtractedName = app.Verification.ExtractedName
		d.IsMatch = app.Verification.IsMatch
	}
	return d
}

// Result is one page of matching application ids.
type Result struct {
	IDs   []string `json:"ids"`
	Total int64    `json:"total"`
	Took  int      `json:"took"`
}

type searchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string `json:"_id"`
			Source struct {
				ID string `json:"id"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search", "index": index}),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return errors.NewSearchQueryFailedError("exists", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return errors.NewSearchQueryFailedError("create index", err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(readBody(res.Body), "resource_already_exists_exception") {
		return errors.NewSearchQueryFailedError("create index", fmt.Errorf("status %s", res.Status()))
	}
	i.logger.Info("Search index created", nil)
	return nil
}

// Index upserts the projection of app.
func (i *Indexer) Index(ctx context.Context, app *models.LoanApplication) error {
	body, err := json.Marshal(toDocument(app))
	if err != nil {
		return errors.NewInternalError(err)
	}
	res, err := i.client.Index(i.index, bytes.NewReader(body),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(app.ID),
	)
	if err != nil {
		return errors.NewSearchQueryFailedError("index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.NewSearchQueryFailedError("index", fmt.Errorf("status %s: %s", res.Status(), readBody(res.Body)))
	}
	return nil
}

// ApplicationChanged keeps the projection current. Failures are logged only.
func (i *Indexer) ApplicationChanged(ctx context.Context, app *models.LoanApplication, event statemachine.Event) {
	if err := i.Index(ctx, app); err != nil {
		i.logger.Warn("Failed to index application", map[string]interface{}{
			"applicationId": app.ID,
			"event":         string(event),
			"error":         err.Error(),
		})
	}
}

// Search returns the ids matching f, newest first.
func (i *Indexer) Search(ctx context.Context, f models.ApplicationFilter) (*Result, error) {
	body, err := json.Marshal(buildApplicationQuery(f))
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, errors.NewSearchQueryFailedError("search", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, errors.NewSearchQueryFailedError("search", fmt.Errorf("status %s: %s", res.Status(), readBody(res.Body)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewSearchQueryFailedError("decode", err)
	}

	out := &Result{IDs: make([]string, 0, len(parsed.Hits.Hits)), Total: parsed.Hits.Total.Value, Took: parsed.Took}
	for _, h := range parsed.Hits.Hits {
		id := h.Source.ID
		if id == "" {
			id = h.ID
		}
		out.IDs = append(out.IDs, id)
	}
	return out, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}
