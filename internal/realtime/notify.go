package realtime

import (
	"github.com/google/uuid"
)

func newID() string {
	return uuid.New().String()
}

// BroadcastNewPost announces a created post to every connected client.
func (h *Hub) BroadcastNewPost(payload PostPayload) {
	h.BroadcastGlobal(NewEvent(EventNewPost, payload))
}

// BroadcastPostDeleted announces a deleted post to every connected client.
func (h *Hub) BroadcastPostDeleted(postID, userID string) {
	h.BroadcastGlobal(NewEvent(EventPostDeleted, PostPayload{
		PostID: postID,
		UserID: userID,
	}))
}

// BroadcastPostLiked announces a like with the updated count.
func (h *Hub) BroadcastPostLiked(payload LikePayload) {
	h.BroadcastGlobal(NewEvent(EventPostLiked, payload))
}

// BroadcastNewComment announces a created comment.
func (h *Hub) BroadcastNewComment(payload CommentPayload) {
	h.BroadcastGlobal(NewEvent(EventNewComment, payload))
}
