package handlers

import (
	"testing"
	"time"

	"github.com/ramon2115/negotiation-game2/services"
)

func newTestClient(id, participantID string) *Client {
	return &Client{
		ID:            id,
		ParticipantID: participantID,
		Send:          make(chan outbound, 8),
	}
}

// waitRegistered blocks until the hub's run loop has absorbed the client;
// registration rides a channel, so sends racing it would be flaky.
func waitRegistered(t *testing.T, hub *RoomHub, clients ...*Client) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for _, c := range clients {
		for {
			hub.mu.RLock()
			_, ok := hub.Clients[c.ID]
			hub.mu.RUnlock()
			if ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("client %s never registered", c.ID)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func recvOrTimeout(t *testing.T, c *Client) outbound {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return outbound{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("client %s unexpectedly received %+v", c.ID, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversByParticipant(t *testing.T) {
	m := NewHubManager()
	hub := m.GetOrCreateHub("room-1")

	alice := newTestClient("c1", "alice")
	bob := newTestClient("c2", "bob")
	hub.Register <- alice
	hub.Register <- bob
	waitRegistered(t, hub, alice, bob)

	hub.Deliver([]services.Notification{
		{ParticipantID: "alice", Type: "paired", Data: map[string]string{"partner": "bob"}},
	})

	msg := recvOrTimeout(t, alice)
	if msg.Type != "paired" {
		t.Fatalf("type = %q, want paired", msg.Type)
	}
	assertSilent(t, bob)
}

func TestHubDeliversToEveryConnectionOfParticipant(t *testing.T) {
	m := NewHubManager()
	hub := m.GetOrCreateHub("room-1")

	// Same participant on two tabs.
	first := newTestClient("c1", "alice")
	second := newTestClient("c2", "alice")
	hub.Register <- first
	hub.Register <- second
	waitRegistered(t, hub, first, second)

	hub.Deliver([]services.Notification{
		{ParticipantID: "alice", Type: "message"},
	})

	if got := recvOrTimeout(t, first); got.Type != "message" {
		t.Fatalf("first connection got %q", got.Type)
	}
	if got := recvOrTimeout(t, second); got.Type != "message" {
		t.Fatalf("second connection got %q", got.Type)
	}
}

func TestHubBroadcastRespectsExcludes(t *testing.T) {
	m := NewHubManager()
	hub := m.GetOrCreateHub("room-1")

	alice := newTestClient("c1", "alice")
	bob := newTestClient("c2", "bob")
	hub.Register <- alice
	hub.Register <- bob
	waitRegistered(t, hub, alice, bob)

	hub.Broadcast(outbound{Type: "participant_joined"}, map[string]bool{alice.ID: true})

	if got := recvOrTimeout(t, bob); got.Type != "participant_joined" {
		t.Fatalf("bob got %q", got.Type)
	}
	assertSilent(t, alice)
}

func TestHubManagerReusesHub(t *testing.T) {
	m := NewHubManager()
	if m.GetOrCreateHub("room-1") != m.GetOrCreateHub("room-1") {
		t.Fatal("same room produced two hubs")
	}
	if m.GetOrCreateHub("room-1") == m.GetOrCreateHub("room-2") {
		t.Fatal("different rooms share a hub")
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	m := NewHubManager()
	hub := m.GetOrCreateHub("room-1")

	alice := newTestClient("c1", "alice")
	hub.Register <- alice
	waitRegistered(t, hub, alice)
	hub.Unregister <- alice

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-alice.Send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("send channel never closed")
		}
	}
}
