package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/offline/cachestore"
	"github.com/pulsefeed/backend/internal/offline/queue"
	"github.com/pulsefeed/backend/internal/offline/strategy"
	"github.com/pulsefeed/backend/internal/offline/sync"
)

var (
	authToken    string
	apiURL       string = "http://localhost:8787"
	dataDir      string
	cacheVersion string = "v1"
	output       string = "text" // "text" or "json"
)

var rootCmd = &cobra.Command{
	Use:   "pulsefeed-agent",
	Short: "Pulsefeed agent - Offline-capable client for the Pulsefeed API",
	Long: `Pulsefeed agent keeps working without connectivity: posts made offline
are queued locally and replayed in order when the network returns, and
fetched content is cached for offline reading.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if authToken == "" {
			authToken = os.Getenv("PULSEFEED_TOKEN")
		}
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				home = "."
			}
			dataDir = filepath.Join(home, ".pulsefeed")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Authentication token (defaults to PULSEFEED_TOKEN env var)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", apiURL, "API server URL")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Agent data directory (defaults to ~/.pulsefeed)")
	rootCmd.PersistentFlags().StringVar(&cacheVersion, "cache-version", cacheVersion, "Active cache version")
	rootCmd.PersistentFlags().StringVar(&output, "output", output, "Output format: text or json")

	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(fetchCmd)
}

// authTransport stamps the bearer token onto every outgoing request.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func newTransport() http.RoundTripper {
	return &authTransport{token: authToken, base: http.DefaultTransport}
}

// openStores opens the queue and cache databases under the data directory.
func openStores() (*queue.Store, *cachestore.Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	q, err := queue.Open(filepath.Join(dataDir, "queue.db"), queue.WithIdempotencyKeys(true))
	if err != nil {
		return nil, nil, err
	}

	cache, err := cachestore.Open(filepath.Join(dataDir, "cache.db"), cacheVersion)
	if err != nil {
		_ = q.Close()
		return nil, nil, err
	}

	return q, cache, nil
}

func newCoordinator(q *queue.Store, cache *cachestore.Store) *sync.Coordinator {
	return sync.NewCoordinator(q, cache, apiURL+"/api/v1/posts",
		sync.WithHTTPClient(&http.Client{
			Timeout:   30 * time.Second,
			Transport: newTransport(),
		}))
}

func newEngine(cache *cachestore.Store) *strategy.Engine {
	return strategy.New(cache,
		strategy.WithTransport(newTransport()),
		strategy.WithOfflineDocument([]byte(offlineDocument)))
}

const offlineDocument = `<!doctype html>
<html><head><title>Pulsefeed - Offline</title></head>
<body><h1>You are offline</h1>
<p>This page is not cached. Reconnect and try again.</p></body></html>
`

func main() {
	// Coordinator and strategy code logs through the shared logger.
	if err := logger.Initialize("warn", ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
