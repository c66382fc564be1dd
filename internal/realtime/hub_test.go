package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/backend/internal/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	m.Run()
}

// fakePresence records presence flips without a database.
type fakePresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (p *fakePresence) SetOnline(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append(p.online, userID)
	return nil
}

func (p *fakePresence) SetOffline(userID string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID)
	return nil
}

func newTestClient(hub *Hub) *Client {
	return NewClient(hub, nil)
}

// drainEvents decodes everything buffered on a client's send channel.
func drainEvents(t *testing.T, c *Client) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case data := <-c.send:
			var e Event
			require.NoError(t, json.Unmarshal(data, &e))
			events = append(events, e)
		default:
			return events
		}
	}
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestAuthenticateTracksConnection(t *testing.T) {
	presence := &fakePresence{}
	hub := NewHub(presence)

	client := newTestClient(hub)
	displaced := hub.Authenticate(client, "user-1", "alice")
	assert.Nil(t, displaced)

	assert.True(t, client.IsAuthenticated())
	assert.True(t, hub.IsUserOnline("user-1"))
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, []string{"user-1"}, presence.online)
}

func TestSecondAuthenticateOverwritesMapping(t *testing.T) {
	hub := NewHub(&fakePresence{})

	first := newTestClient(hub)
	hub.Authenticate(first, "user-1", "alice")

	second := newTestClient(hub)
	displaced := hub.Authenticate(second, "user-1", "alice")

	require.Equal(t, first, displaced)
	assert.True(t, first.IsClosed(), "displaced connection is closed")
	assert.Equal(t, 1, hub.ClientCount())

	tracked, ok := hub.ConnectionFor("user-1")
	require.True(t, ok)
	assert.Equal(t, second, tracked)
}

func TestDisplacedDisconnectKeepsReplacement(t *testing.T) {
	hub := NewHub(&fakePresence{})

	first := newTestClient(hub)
	hub.Authenticate(first, "user-1", "alice")
	second := newTestClient(hub)
	hub.Authenticate(second, "user-1", "alice")

	// The displaced connection's read pump eventually exits and disconnects.
	// That must not knock out the replacement mapping.
	hub.Disconnect(first)

	assert.True(t, hub.IsUserOnline("user-1"))
	tracked, ok := hub.ConnectionFor("user-1")
	require.True(t, ok)
	assert.Equal(t, second, tracked)
}

func TestDisconnectClearsMappingAndPresence(t *testing.T) {
	presence := &fakePresence{}
	hub := NewHub(presence)

	client := newTestClient(hub)
	hub.Authenticate(client, "user-1", "alice")
	hub.Disconnect(client)

	assert.False(t, hub.IsUserOnline("user-1"))
	assert.Zero(t, hub.ClientCount())
	assert.Equal(t, []string{"user-1"}, presence.offline)
}

func TestRelayDirectMissIsSilent(t *testing.T) {
	hub := NewHub(&fakePresence{})

	delivered := hub.RelayDirect("nobody", NewEvent(EventIncomingCall, CallPayload{CallID: "c1", TargetID: "nobody"}))
	assert.False(t, delivered)
}

func TestRelayDirectDelivers(t *testing.T) {
	hub := NewHub(&fakePresence{})
	client := newTestClient(hub)
	hub.Authenticate(client, "user-1", "alice")
	drainEvents(t, client) // discard auth-time traffic

	delivered := hub.RelayDirect("user-1", NewEvent(EventIncomingCall, CallPayload{CallID: "c1", TargetID: "user-1"}))
	require.True(t, delivered)

	events := drainEvents(t, client)
	require.Len(t, events, 1)
	assert.Equal(t, EventIncomingCall, events[0].Type)
}

func TestBroadcastGlobalReachesAllClients(t *testing.T) {
	hub := NewHub(&fakePresence{})

	alice := newTestClient(hub)
	hub.Authenticate(alice, "user-1", "alice")
	bob := newTestClient(hub)
	hub.Authenticate(bob, "user-2", "bob")
	drainEvents(t, alice)
	drainEvents(t, bob)

	hub.BroadcastGlobal(NewEvent(EventNewPost, PostPayload{PostID: "p1", UserID: "user-1"}))

	for _, c := range []*Client{alice, bob} {
		events := drainEvents(t, c)
		require.Len(t, events, 1)
		assert.Equal(t, EventNewPost, events[0].Type)
	}
}

func TestUserOnlineBroadcastExcludesNewcomer(t *testing.T) {
	hub := NewHub(&fakePresence{})

	alice := newTestClient(hub)
	hub.Authenticate(alice, "user-1", "alice")
	drainEvents(t, alice)

	bob := newTestClient(hub)
	hub.Authenticate(bob, "user-2", "bob")

	aliceEvents := drainEvents(t, alice)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, EventUserOnline, aliceEvents[0].Type)

	assert.Empty(t, drainEvents(t, bob), "newcomer does not hear their own arrival")
}

func TestRoomBroadcastReachesOnlyMembers(t *testing.T) {
	hub := NewHub(&fakePresence{})

	alice := newTestClient(hub)
	hub.Authenticate(alice, "user-1", "alice")
	bob := newTestClient(hub)
	hub.Authenticate(bob, "user-2", "bob")
	carol := newTestClient(hub)
	hub.Authenticate(carol, "user-3", "carol")

	hub.JoinRoom(alice, "conv-1")
	hub.JoinRoom(bob, "conv-1")
	drainEvents(t, alice)
	drainEvents(t, bob)
	drainEvents(t, carol)

	hub.BroadcastRoom("conv-1", NewEvent(EventNewMessage, ChatMessagePayload{ConversationID: "conv-1", Body: "hi"}), alice)

	assert.Empty(t, drainEvents(t, alice), "sender is excluded")
	bobEvents := drainEvents(t, bob)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, EventNewMessage, bobEvents[0].Type)
	assert.Empty(t, drainEvents(t, carol), "non-members hear nothing")
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	hub := NewHub(&fakePresence{})

	alice := newTestClient(hub)
	hub.Authenticate(alice, "user-1", "alice")
	hub.JoinRoom(alice, "conv-1")
	require.True(t, alice.InRoom("conv-1"))

	hub.LeaveRoom(alice, "conv-1")
	assert.False(t, alice.InRoom("conv-1"))
	assert.Zero(t, hub.RoomMemberCount("conv-1"))
}

func TestDisconnectLeavesRooms(t *testing.T) {
	hub := NewHub(&fakePresence{})

	alice := newTestClient(hub)
	hub.Authenticate(alice, "user-1", "alice")
	hub.JoinRoom(alice, "conv-1")
	hub.JoinRoom(alice, "conv-2")

	hub.Disconnect(alice)

	assert.Zero(t, hub.RoomMemberCount("conv-1"))
	assert.Zero(t, hub.RoomMemberCount("conv-2"))
}

func TestUnauthenticatedEventsRejected(t *testing.T) {
	hub := NewHub(&fakePresence{})
	handled := false
	hub.RegisterHandler(EventJoinChat, func(client *Client, event *Event) error {
		handled = true
		return nil
	})

	client := newTestClient(hub)
	client.handleEvent(&Event{Type: EventJoinChat, Payload: RoomPayload{RoomID: "conv-1"}})

	assert.False(t, handled, "handlers must not run before authentication")
	events := drainEvents(t, client)
	require.Len(t, events, 1)
	assert.Equal(t, EventAuthError, events[0].Type)
}

func TestPingAllowedBeforeAuthentication(t *testing.T) {
	hub := NewHub(&fakePresence{})
	client := newTestClient(hub)

	client.handleEvent(&Event{Type: EventPing})

	events := drainEvents(t, client)
	require.Len(t, events, 1)
	assert.Equal(t, EventPong, events[0].Type)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(10, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow(), "burst exhausted")

	time.Sleep(150 * time.Millisecond)
	assert.True(t, limiter.Allow(), "tokens refill over time")
}
