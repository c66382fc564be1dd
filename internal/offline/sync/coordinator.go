// Package sync replays queued mutations when connectivity returns. A failed
// mutation is persisted and acknowledged with a synthetic 202; the drain runs
// strictly in enqueue order, one entry at a time.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/metrics"
	"github.com/pulsefeed/backend/internal/offline/cachestore"
	"github.com/pulsefeed/backend/internal/offline/queue"
)

// Notification types pushed to subscribers after a drain.
const (
	NotifySyncComplete = "SYNC_COMPLETE"
	NotifyNewContent   = "NEW_CONTENT"
)

// Notification reports the outcome of a drain to subscribers.
type Notification struct {
	Type      string `json:"type"`
	Processed int    `json:"processed"`
	Remaining int    `json:"remaining"`
}

// Result is what a Submit caller gets back. When Offline is set the mutation
// was queued instead of delivered and StatusCode is a synthetic 202.
type Result struct {
	StatusCode int             `json:"status_code"`
	Offline    bool            `json:"offline"`
	QueuedID   uint64          `json:"queued_id,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Coordinator wraps mutation POSTs with offline queueing and replay.
type Coordinator struct {
	queue *queue.Store
	cache *cachestore.Store

	endpoint string
	client   *http.Client

	// Serializes drains. Concurrent connectivity signals collapse into one
	// drain at a time; replay order inside a drain is enqueue order.
	drainMu sync.Mutex

	subMu sync.Mutex
	subs  []chan Notification
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient overrides the replay client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		c.client = client
	}
}

// NewCoordinator creates a Coordinator posting to endpoint. The cache store
// may be nil when the control channel is not used.
func NewCoordinator(q *queue.Store, cache *cachestore.Store, endpoint string, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:    q,
		cache:    cache,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns a channel receiving drain notifications. Slow consumers
// lose notifications rather than blocking the drain.
func (c *Coordinator) Subscribe() <-chan Notification {
	ch := make(chan Notification, 16)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Coordinator) publish(n Notification) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Submit attempts to deliver a mutation. On transport failure the mutation is
// queued and a synthetic accepted result comes back; a queue storage failure
// is returned to the caller instead of being swallowed.
func (c *Coordinator) Submit(ctx context.Context, m queue.Mutation) (*Result, error) {
	resp, err := c.post(ctx, m)
	if err == nil {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("reading response: %w", readErr)
		}
		return &Result{StatusCode: resp.StatusCode, Body: body}, nil
	}

	id, qErr := c.queue.Enqueue(ctx, m)
	if qErr != nil {
		return nil, fmt.Errorf("queueing mutation after network failure: %w", qErr)
	}

	logger.Log.Info("Mutation queued for later sync",
		zap.Uint64("id", id),
		zap.String("user", m.User),
		zap.Error(err))

	body, _ := json.Marshal(map[string]any{
		"offline":   true,
		"queued_id": id,
		"message":   "stored for sync when connectivity returns",
	})
	return &Result{
		StatusCode: http.StatusAccepted,
		Offline:    true,
		QueuedID:   id,
		Body:       body,
	}, nil
}

// NotifyOnline drains the queue in enqueue order: one POST per entry, removal
// on success, entries left in place on failure. Per-entry failures never
// abort the drain; the only fatal error is being unable to read the queue.
func (c *Coordinator) NotifyOnline(ctx context.Context) error {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	pending, err := c.queue.List(ctx)
	if err != nil {
		return fmt.Errorf("listing queued mutations: %w", err)
	}

	processed := 0
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			break
		}

		resp, err := c.post(ctx, m)
		if err != nil {
			metrics.SyncReplays.WithLabelValues("failure").Inc()
			logger.Log.Warn("Replay failed, mutation stays queued",
				zap.Uint64("id", m.ID),
				zap.Error(err))
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		// Only a confirmed success removes the entry. A rejection stays
		// queued for the next connectivity signal, same as a transport
		// failure; there is no backoff.
		if resp.StatusCode >= http.StatusMultipleChoices {
			metrics.SyncReplays.WithLabelValues("failure").Inc()
			logger.Log.Warn("Replay rejected by server, mutation stays queued",
				zap.Uint64("id", m.ID),
				zap.Int("status", resp.StatusCode))
			continue
		}

		if err := c.queue.Remove(ctx, m.ID); err != nil {
			logger.WarnErr("Failed to remove replayed mutation", err)
			continue
		}
		metrics.SyncReplays.WithLabelValues("success").Inc()
		processed++
	}

	remaining, err := c.queue.Count(ctx)
	if err != nil {
		remaining = len(pending) - processed
	}

	c.publish(Notification{Type: NotifySyncComplete, Processed: processed, Remaining: remaining})
	c.publish(Notification{Type: NotifyNewContent, Processed: processed, Remaining: remaining})

	logger.Log.Info("Offline drain complete",
		zap.Int("processed", processed),
		zap.Int("remaining", remaining))
	return nil
}

// post rebuilds the multipart body (user, text, optional file) and POSTs it.
func (c *Coordinator) post(ctx context.Context, m queue.Mutation) (*http.Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("user", m.User); err != nil {
		return nil, fmt.Errorf("writing user field: %w", err)
	}
	if err := w.WriteField("text", m.Text); err != nil {
		return nil, fmt.Errorf("writing text field: %w", err)
	}
	if len(m.FileData) > 0 {
		part, err := w.CreateFormFile("file", m.FileName)
		if err != nil {
			return nil, fmt.Errorf("creating file part: %w", err)
		}
		if _, err := part.Write(m.FileData); err != nil {
			return nil, fmt.Errorf("writing file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if m.IdempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", m.IdempotencyKey)
	}

	return c.client.Do(req)
}
