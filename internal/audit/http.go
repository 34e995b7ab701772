package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/logging"
)

// HTTPEmitter posts audit events to an HTTP collector, keeping a local copy
// of every event first.
type HTTPEmitter struct {
	endpoint     string
	client       *http.Client
	chainTracker *ChainTracker
	backup       *FileBackup
	retries      int
	delay        time.Duration
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	chainTracker, err := NewChainTracker(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &HTTPEmitter{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		chainTracker: chainTracker,
		backup:       backup,
		retries:      3,
		delay:        time.Second,
	}, nil
}

// Emit sends an audit event to the configured endpoint.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	chainKey := evt.ChainKey()

	prev, err := e.chainTracker.GetHead(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.EventID = GenerateEventID()
	evt.Timestamp = time.Now().UTC()
	evt.SetChainHashes(prev)

	if prev.Seq == 0 {
		log.Printf("[audit] starting chain %s", chainKey)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	// The local copy holds only accepted events so it verifies as one chain.
	if _, err := e.backup.Save(evt); err != nil {
		log.Printf("[audit] warning: backup failed: %v", err)
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}

	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			log.Printf("[audit] attempt %d/%d failed: %v, retrying in %v", attempt, e.retries, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logging.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
