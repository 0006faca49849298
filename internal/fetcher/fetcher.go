// Package fetcher issues validator-based conditional reads against the
// activity endpoints and classifies the outcome.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/httpdate"
	"github.com/evescope/activity-ingest/internal/models"
)

var (
	// ErrUnexpectedStatus means the source returned neither 200 nor 304.
	// The caller must abort the whole run to protect the shared error budget.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrMalformedBody means a 200 body was not a JSON array of objects.
	ErrMalformedBody = errors.New("malformed response body")
)

// Fetcher performs conditional GETs against the configured source.
type Fetcher struct {
	cfg    config.SourceConfig
	client *http.Client
	log    *zap.Logger
}

// New creates a Fetcher with a bounded-timeout transport.
func New(cfg config.SourceConfig, log *zap.Logger) *Fetcher {
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Fetch issues one conditional read for the dataset. A stored validator is
// attached as If-None-Match. The result is Fresh (with a parsed body) or
// NotModified; anything else is an error and the outcome carries
// OutcomeFailed.
func (f *Fetcher) Fetch(ctx context.Context, dataset models.Dataset, storedValidator string) (*models.FetchOutcome, error) {
	url := fmt.Sprintf("%s/%s/?datasource=%s", f.cfg.BaseURL, dataset.Path(), f.cfg.Datasource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: new request: %w", dataset, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if storedValidator != "" {
		req.Header.Set("If-None-Match", storedValidator)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", dataset, err)
	}
	defer resp.Body.Close()

	outcome := &models.FetchOutcome{
		Dataset:      dataset,
		Validator:    lastHeader(resp.Header, "ETag"),
		LastModified: httpdate.Parse(lastHeader(resp.Header, "Last-Modified")),
		ExpiresAt:    httpdate.Parse(lastHeader(resp.Header, "Expires")),
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		outcome.Status = models.OutcomeNotModified
		f.log.Debug("dataset not modified", zap.String("dataset", string(dataset)))
		return outcome, nil
	case http.StatusOK:
		body, err := decodeArray(resp.Body)
		if err != nil {
			outcome.Status = models.OutcomeFailed
			return outcome, fmt.Errorf("fetch %s: %w", dataset, err)
		}
		outcome.Status = models.OutcomeFresh
		outcome.Body = body
		f.log.Debug("dataset fetched",
			zap.String("dataset", string(dataset)),
			zap.Int("records", len(body)),
			zap.String("etag", outcome.Validator),
		)
		return outcome, nil
	default:
		outcome.Status = models.OutcomeFailed
		return outcome, fmt.Errorf("fetch %s: %w: %d", dataset, ErrUnexpectedStatus, resp.StatusCode)
	}
}

// decodeArray reads the body and requires it to be a JSON array of objects.
// Numbers are kept as json.Number so counter coercion downstream is exact.
func decodeArray(r io.Reader) ([]map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: not a JSON array", ErrMalformedBody)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing content after array", ErrMalformedBody)
	}
	return records, nil
}

// lastHeader returns the last instance of a header. The source has been
// observed duplicating caching headers across redirect hops; the last one
// reflects the representation actually served.
func lastHeader(h http.Header, key string) string {
	values := h.Values(key)
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}
