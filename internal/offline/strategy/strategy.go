// Package strategy decides how each outgoing request interacts with the
// offline cache and executes it: network-first for API and navigation
// traffic, cache-first for static assets and media, bypass for mutations.
package strategy

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/pulsefeed/backend/internal/metrics"
	"github.com/pulsefeed/backend/internal/offline/cachestore"
)

// Class is the handling decision for a request.
type Class int

const (
	// ClassNetworkFirst tries the network and falls back to cache.
	ClassNetworkFirst Class = iota
	// ClassCacheFirst serves from cache and only hits the network on a miss.
	ClassCacheFirst
	// ClassBypass goes straight to the network. Non-GET mutations take this
	// path; queueing on failure is the sync coordinator's job, not ours.
	ClassBypass
)

var staticExtensions = map[string]struct{}{
	".js": {}, ".css": {}, ".html": {}, ".ico": {}, ".svg": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".map": {},
}

var mediaExtensions = map[string]struct{}{
	".mp3": {}, ".mp4": {}, ".wav": {}, ".ogg": {}, ".webm": {},
	".m4a": {}, ".aac": {}, ".flac": {}, ".mov": {},
}

// Engine executes requests according to their class over an injected
// transport.
type Engine struct {
	store     *cachestore.Store
	transport http.RoundTripper

	// Served for navigations when both network and cache fail.
	offlineDoc []byte
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport overrides the network transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Engine) {
		e.transport = rt
	}
}

// WithOfflineDocument sets the HTML document served to navigations when
// neither network nor cache can answer.
func WithOfflineDocument(doc []byte) Option {
	return func(e *Engine) {
		e.offlineDoc = doc
	}
}

// New creates an Engine over the given cache store.
func New(store *cachestore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify maps a request to its handling class and target partition.
// Precedence: mutations bypass, navigations and API calls are network-first,
// media and static assets are cache-first.
func Classify(req *http.Request) (Class, cachestore.Partition) {
	if req.Method != http.MethodGet {
		return ClassBypass, ""
	}
	if isNavigation(req) || strings.HasPrefix(req.URL.Path, "/api/") {
		return ClassNetworkFirst, cachestore.PartitionDynamic
	}

	ext := strings.ToLower(path.Ext(req.URL.Path))
	if _, ok := mediaExtensions[ext]; ok || strings.HasPrefix(req.URL.Path, "/media/") {
		return ClassCacheFirst, cachestore.PartitionMedia
	}
	if _, ok := staticExtensions[ext]; ok {
		return ClassCacheFirst, cachestore.PartitionStatic
	}

	return ClassNetworkFirst, cachestore.PartitionDynamic
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Do executes the request according to its class.
func (e *Engine) Do(req *http.Request) (*http.Response, error) {
	class, partition := Classify(req)

	switch class {
	case ClassCacheFirst:
		return e.cacheFirst(req, partition)
	case ClassNetworkFirst:
		return e.networkFirst(req, partition)
	default:
		metrics.CacheRequests.WithLabelValues("none", "bypass").Inc()
		return e.transport.RoundTrip(req)
	}
}

// networkFirst tries the network, caching a copy of successful responses.
// On transport failure the cache answers; navigations fall through to the
// offline document as a last resort.
func (e *Engine) networkFirst(req *http.Request, partition cachestore.Partition) (*http.Response, error) {
	resp, err := e.transport.RoundTrip(req)
	if err == nil {
		metrics.CacheRequests.WithLabelValues(string(partition), "network").Inc()
		return e.storeCopy(req, partition, resp), nil
	}

	if entry, cacheErr := e.store.Get(req.Context(), partition, req); cacheErr == nil {
		metrics.CacheRequests.WithLabelValues(string(partition), "fallback_hit").Inc()
		return entryResponse(req, entry), nil
	}

	if isNavigation(req) && e.offlineDoc != nil {
		metrics.CacheRequests.WithLabelValues(string(partition), "offline_document").Inc()
		return offlineDocResponse(req, e.offlineDoc), nil
	}

	metrics.CacheRequests.WithLabelValues(string(partition), "fallback_miss").Inc()
	return nil, err
}

// cacheFirst serves from cache without touching the network. Ranged requests
// skip the cache entirely in both directions.
func (e *Engine) cacheFirst(req *http.Request, partition cachestore.Partition) (*http.Response, error) {
	if req.Header.Get("Range") != "" {
		metrics.CacheRequests.WithLabelValues(string(partition), "range_bypass").Inc()
		return e.transport.RoundTrip(req)
	}

	if entry, err := e.store.Get(req.Context(), partition, req); err == nil {
		metrics.CacheRequests.WithLabelValues(string(partition), "hit").Inc()
		return entryResponse(req, entry), nil
	}

	resp, err := e.transport.RoundTrip(req)
	if err != nil {
		metrics.CacheRequests.WithLabelValues(string(partition), "miss_error").Inc()
		return nil, err
	}

	metrics.CacheRequests.WithLabelValues(string(partition), "miss").Inc()
	return e.storeCopy(req, partition, resp), nil
}

// storeCopy caches a full 200 response and hands back an equivalent response
// with a replayable body. Anything else passes through untouched.
func (e *Engine) storeCopy(req *http.Request, partition cachestore.Partition, resp *http.Response) *http.Response {
	if resp.StatusCode != http.StatusOK || req.Header.Get("Range") != "" {
		return resp
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp
	}

	entry := &cachestore.Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	// A storage failure must not break the live response.
	_ = e.store.Put(req.Context(), partition, req, entry)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp
}

func entryResponse(req *http.Request, entry *cachestore.Entry) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-From-Cache", "1")

	return &http.Response{
		StatusCode:    entry.StatusCode,
		Status:        http.StatusText(entry.StatusCode),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

func offlineDocResponse(req *http.Request, doc []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("X-Offline-Fallback", "1")

	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        http.StatusText(http.StatusOK),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(doc)),
		ContentLength: int64(len(doc)),
		Request:       req,
	}
}
