package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/pulsefeed/backend/internal/offline/cachestore"
	"github.com/pulsefeed/backend/internal/offline/queue"
	"github.com/pulsefeed/backend/internal/offline/sync"
)

var (
	postUser string
	postText string
	postFile string
)

func init() {
	postCmd.Flags().StringVar(&postUser, "user", "", "Username recorded on the post")
	postCmd.Flags().StringVar(&postText, "text", "", "Post text (required)")
	postCmd.Flags().StringVar(&postFile, "file", "", "Path to a media attachment")
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create a post, queueing it locally if the network is down",
	RunE: func(cmd *cobra.Command, args []string) error {
		if postText == "" {
			return fmt.Errorf("--text is required")
		}

		m := queue.Mutation{User: postUser, Text: postText}
		if postFile != "" {
			data, err := os.ReadFile(postFile)
			if err != nil {
				return fmt.Errorf("reading attachment: %w", err)
			}
			m.FileName = postFile
			m.FileData = data
		}

		q, cache, err := openStores()
		if err != nil {
			return err
		}
		defer q.Close()
		defer cache.Close()

		result, err := newCoordinator(q, cache).Submit(cmd.Context(), m)
		if err != nil {
			return err
		}

		if output == "json" {
			return printJSON(result)
		}
		if result.Offline {
			fmt.Printf("Offline: post queued locally (id %d). Run 'pulsefeed-agent sync' when back online.\n", result.QueuedID)
		} else {
			fmt.Printf("Posted (HTTP %d)\n", result.StatusCode)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued posts in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cache, err := openStores()
		if err != nil {
			return err
		}
		defer q.Close()
		defer cache.Close()

		coord := newCoordinator(q, cache)
		notifications := coord.Subscribe()

		if err := coord.NotifyOnline(cmd.Context()); err != nil {
			return err
		}

		// NotifyOnline publishes before returning, so the buffered channel
		// already holds the outcome.
		n := <-notifications
		if output == "json" {
			return printJSON(n)
		}
		fmt.Printf("Sync complete: %d replayed, %d still queued\n", n.Processed, n.Remaining)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued post count and cache contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cache, err := openStores()
		if err != nil {
			return err
		}
		defer q.Close()
		defer cache.Close()

		reply, err := newCoordinator(q, cache).HandleControl(cmd.Context(),
			sync.ControlMessage{Type: sync.ControlGetOfflineCount})
		if err != nil {
			return err
		}

		type partitionStatus struct {
			Partition string `json:"partition"`
			Entries   int    `json:"entries"`
		}
		status := struct {
			QueuedPosts  int               `json:"queued_posts"`
			CacheVersion string            `json:"cache_version"`
			Partitions   []partitionStatus `json:"partitions"`
		}{
			QueuedPosts:  reply.Count,
			CacheVersion: cache.Version(),
		}
		for _, p := range []cachestore.Partition{cachestore.PartitionStatic, cachestore.PartitionDynamic, cachestore.PartitionMedia} {
			n, err := cache.Len(p)
			if err != nil {
				return err
			}
			status.Partitions = append(status.Partitions, partitionStatus{Partition: string(p), Entries: n})
		}

		if output == "json" {
			return printJSON(status)
		}
		fmt.Printf("Queued posts:  %d\n", status.QueuedPosts)
		fmt.Printf("Cache version: %s\n", status.CacheVersion)
		for _, p := range status.Partitions {
			fmt.Printf("  %-8s %d entries\n", p.Partition, p.Entries)
		}
		return nil
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <version>",
	Short: "Activate a cache version and collect older ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cache, err := openStores()
		if err != nil {
			return err
		}
		defer q.Close()
		defer cache.Close()

		_, err = newCoordinator(q, cache).HandleControl(cmd.Context(),
			sync.ControlMessage{Type: sync.ControlSkipWaiting, Version: args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("Cache version %s active\n", args[0])
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Empty every partition of the active cache version",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cache, err := openStores()
		if err != nil {
			return err
		}
		defer q.Close()
		defer cache.Close()

		_, err = newCoordinator(q, cache).HandleControl(cmd.Context(),
			sync.ControlMessage{Type: sync.ControlClearCache})
		if err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url-or-path>",
	Short: "Fetch a URL through the offline cache",
	Long: `Fetch executes a GET through the caching engine: API and page requests
try the network first and fall back to cache, static assets and media are
served from cache when present. Paths are resolved against --api.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		if target[0] == '/' {
			target = apiURL + target
		}

		q, cache, err := openStores()
		if err != nil {
			return err
		}
		defer q.Close()
		defer cache.Close()

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
		if err != nil {
			return err
		}

		resp, err := newEngine(cache).Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.Header.Get("X-From-Cache") == "1" {
			fmt.Fprintf(os.Stderr, "(served from cache)\n")
		}
		fmt.Fprintf(os.Stderr, "HTTP %d\n", resp.StatusCode)
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
