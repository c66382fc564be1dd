package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/offline/queue"
)

// Control message types understood by the agent.
const (
	ControlSkipWaiting      = "SKIP_WAITING"
	ControlStoreOfflinePost = "STORE_OFFLINE_POST"
	ControlGetOfflineCount  = "GET_OFFLINE_COUNT"
	ControlClearCache       = "CLEAR_CACHE"
)

// ControlMessage is a client→agent command.
type ControlMessage struct {
	Type string `json:"type"`

	// SKIP_WAITING: the cache version to activate.
	Version string `json:"version,omitempty"`

	// STORE_OFFLINE_POST: the mutation to queue.
	Post *queue.Mutation `json:"post,omitempty"`
}

// ControlReply is the agent's answer. Count is set for GET_OFFLINE_COUNT.
type ControlReply struct {
	OK       bool   `json:"ok"`
	Count    int    `json:"count,omitempty"`
	QueuedID uint64 `json:"queued_id,omitempty"`
}

// HandleControl executes one control message.
func (c *Coordinator) HandleControl(ctx context.Context, msg ControlMessage) (ControlReply, error) {
	switch msg.Type {
	case ControlSkipWaiting:
		if c.cache == nil {
			return ControlReply{}, fmt.Errorf("no cache store configured")
		}
		if err := c.cache.Activate(msg.Version); err != nil {
			return ControlReply{}, fmt.Errorf("activating cache version %q: %w", msg.Version, err)
		}
		logger.Log.Info("Cache version activated", zap.String("version", msg.Version))
		return ControlReply{OK: true}, nil

	case ControlStoreOfflinePost:
		if msg.Post == nil {
			return ControlReply{}, fmt.Errorf("missing post payload")
		}
		id, err := c.queue.Enqueue(ctx, *msg.Post)
		if err != nil {
			return ControlReply{}, fmt.Errorf("queueing post: %w", err)
		}
		return ControlReply{OK: true, QueuedID: id}, nil

	case ControlGetOfflineCount:
		n, err := c.queue.Count(ctx)
		if err != nil {
			return ControlReply{}, fmt.Errorf("counting queued mutations: %w", err)
		}
		return ControlReply{OK: true, Count: n}, nil

	case ControlClearCache:
		if c.cache == nil {
			return ControlReply{}, fmt.Errorf("no cache store configured")
		}
		if err := c.cache.Clear(ctx); err != nil {
			return ControlReply{}, fmt.Errorf("clearing cache: %w", err)
		}
		logger.Log.Info("Cache cleared on request")
		return ControlReply{OK: true}, nil

	default:
		return ControlReply{}, fmt.Errorf("unknown control message type %q", msg.Type)
	}
}
