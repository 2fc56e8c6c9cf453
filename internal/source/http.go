// Package source fetches normalized event lists from upstream disaster feed
// providers over HTTP. Any transport error, non-2xx status, or undecodable
// body is a single fetch failure for circuit accounting; individually invalid
// records inside an otherwise good payload are dropped, not failed.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

// Fetcher retrieves the current event list for one source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.Event, error)
}

// HTTPSource implements Fetcher against a provider endpoint that serves a
// JSON array of normalized events.
type HTTPSource struct {
	name       string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSource creates an HTTPSource. The request deadline comes from the
// caller's context, not a client timeout, so one slow source cannot pin a
// shared client setting.
func NewHTTPSource(name, url string, client *http.Client, logger *slog.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		name:       name,
		url:        url,
		httpClient: client,
		logger:     logger,
	}
}

// Fetch retrieves and decodes the source's event list. Records failing
// validation are logged and skipped; the remainder is returned.
func (s *HTTPSource) Fetch(ctx context.Context) ([]domain.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("source %s: status %d: %s", s.name, resp.StatusCode, body)
	}

	var raw []domain.Event
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", s.name, err)
	}

	events := make([]domain.Event, 0, len(raw))
	for _, e := range raw {
		if err := domain.Validate(e); err != nil {
			if errors.Is(err, domain.ErrInvalidEvent) {
				s.logger.Warn("dropping invalid record",
					"source", s.name, "event_id", e.ID, "error", err)
				continue
			}
			return nil, err
		}
		e.SourceID = s.name
		events = append(events, e)
	}
	return events, nil
}
