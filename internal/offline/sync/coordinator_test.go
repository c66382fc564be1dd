package sync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/offline/cachestore"
	"github.com/pulsefeed/backend/internal/offline/queue"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	m.Run()
}

// replayRecorder captures every multipart POST the coordinator makes.
type replayRecorder struct {
	mu       sync.Mutex
	texts    []string
	users    []string
	keys     []string
	files    map[string][]byte
	statusFn func(text string) int
}

func (r *replayRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(10 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		r.mu.Lock()
		text := req.FormValue("text")
		r.texts = append(r.texts, text)
		r.users = append(r.users, req.FormValue("user"))
		r.keys = append(r.keys, req.Header.Get("X-Idempotency-Key"))
		if file, header, err := req.FormFile("file"); err == nil {
			data, _ := io.ReadAll(file)
			file.Close()
			if r.files == nil {
				r.files = map[string][]byte{}
			}
			r.files[header.Filename] = data
		}
		statusFn := r.statusFn
		r.mu.Unlock()

		status := http.StatusCreated
		if statusFn != nil {
			status = statusFn(text)
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}
}

func (r *replayRecorder) recorded() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...), append([]string(nil), r.keys...)
}

func newTestQueue(t *testing.T, opts ...queue.Option) *queue.Store {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestSubmitDeliversOnline(t *testing.T) {
	rec := &replayRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	q := newTestQueue(t)
	c := NewCoordinator(q, nil, srv.URL)

	res, err := c.Submit(context.Background(), queue.Mutation{User: "alice", Text: "hello"})
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "delivered mutations must not be queued")
}

func TestSubmitQueuesOnTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close() // connection refused from here on

	q := newTestQueue(t)
	c := NewCoordinator(q, nil, endpoint)

	res, err := c.Submit(context.Background(), queue.Mutation{User: "alice", Text: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.NotZero(t, res.QueuedID)
	assert.Contains(t, string(res.Body), `"offline":true`)

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitSurfacesStorageFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, q.Close()) // closed store: enqueue must fail

	c := NewCoordinator(q, nil, endpoint)
	_, err = c.Submit(context.Background(), queue.Mutation{User: "alice", Text: "hello"})
	assert.Error(t, err, "storage failure must reach the caller, not vanish into a fake 202")
}

func TestDrainReplaysInOrder(t *testing.T) {
	rec := &replayRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	q := newTestQueue(t)
	c := NewCoordinator(q, nil, srv.URL)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		_, err := q.Enqueue(ctx, queue.Mutation{User: "alice", Text: text, FileName: "pic.png", FileData: []byte{0xff}})
		require.NoError(t, err)
	}

	notifications := c.Subscribe()
	require.NoError(t, c.NotifyOnline(ctx))

	texts, _ := rec.recorded()
	assert.Equal(t, []string{"first", "second", "third"}, texts)
	assert.Equal(t, []byte{0xff}, rec.files["pic.png"])

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got := <-notifications
	assert.Equal(t, NotifySyncComplete, got.Type)
	assert.Equal(t, 3, got.Processed)
	assert.Zero(t, got.Remaining)

	got = <-notifications
	assert.Equal(t, NotifyNewContent, got.Type)
	assert.Zero(t, got.Remaining)
}

func TestDrainLeavesServerFailuresQueued(t *testing.T) {
	rec := &replayRecorder{statusFn: func(text string) int {
		if text == "bad" {
			return http.StatusInternalServerError
		}
		return http.StatusCreated
	}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	q := newTestQueue(t)
	c := NewCoordinator(q, nil, srv.URL)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.Mutation{User: "alice", Text: "good"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.Mutation{User: "alice", Text: "bad"})
	require.NoError(t, err)

	notifications := c.Subscribe()
	require.NoError(t, c.NotifyOnline(ctx))

	left, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "bad", left[0].Text)

	got := <-notifications
	assert.Equal(t, NotifySyncComplete, got.Type)
	assert.Equal(t, 1, got.Processed)
	assert.Equal(t, 1, got.Remaining)
}

func TestDrainSendsIdempotencyKey(t *testing.T) {
	rec := &replayRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	q := newTestQueue(t, queue.WithIdempotencyKeys(true))
	c := NewCoordinator(q, nil, srv.URL)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.Mutation{User: "alice", Text: "hello"})
	require.NoError(t, err)

	require.NoError(t, c.NotifyOnline(ctx))

	_, keys := rec.recorded()
	require.Len(t, keys, 1)
	assert.NotEmpty(t, keys[0])
}

func TestControlMessages(t *testing.T) {
	q := newTestQueue(t)
	cache, err := cachestore.Open(filepath.Join(t.TempDir(), "cache.db"), "v1")
	require.NoError(t, err)
	defer cache.Close()

	c := NewCoordinator(q, cache, "http://unused.invalid")
	ctx := context.Background()

	// STORE_OFFLINE_POST queues a mutation.
	reply, err := c.HandleControl(ctx, ControlMessage{
		Type: ControlStoreOfflinePost,
		Post: &queue.Mutation{User: "alice", Text: "offline post"},
	})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.NotZero(t, reply.QueuedID)

	// GET_OFFLINE_COUNT sees it.
	reply, err = c.HandleControl(ctx, ControlMessage{Type: ControlGetOfflineCount})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Count)

	// SKIP_WAITING activates a new cache version.
	reply, err = c.HandleControl(ctx, ControlMessage{Type: ControlSkipWaiting, Version: "v2"})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "v2", cache.Version())

	// CLEAR_CACHE succeeds on the active version.
	reply, err = c.HandleControl(ctx, ControlMessage{Type: ControlClearCache})
	require.NoError(t, err)
	assert.True(t, reply.OK)

	// Unknown types are rejected.
	_, err = c.HandleControl(ctx, ControlMessage{Type: "NOPE"})
	assert.Error(t, err)
}
