package service

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func newTestClient(userID uint, connID string) *Client {
	return &Client{
		ID:       connID,
		UserID:   userID,
		SendChan: make(chan []byte, 1),
		subs:     make(map[string]*nats.Subscription),
	}
}

func TestClientEnqueue(t *testing.T) {
	c := newTestClient(1, "a")
	if !c.enqueue([]byte("one")) {
		t.Error("expected enqueue to succeed on empty queue")
	}
	// 測試用隊列容量為 1，第二次入隊應被拒絕而不是阻塞
	if c.enqueue([]byte("two")) {
		t.Error("expected enqueue to fail on full queue")
	}
}

func TestClientEnqueueAfterClose(t *testing.T) {
	// 退訂後仍可能有一次在途的回調投遞，
	// 收尾後的入隊必須安全拒絕而不是 panic
	c := newTestClient(1, "a")
	c.closeSend()
	if c.enqueue([]byte("late")) {
		t.Error("expected enqueue to fail after close")
	}
}

func TestClientCloseSendIdempotent(t *testing.T) {
	c := newTestClient(1, "a")
	c.closeSend()
	c.closeSend()
	if _, ok := <-c.SendChan; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestManagerClientBookkeeping(t *testing.T) {
	m := NewWebSocketManager(nil)
	a1 := newTestClient(1, "a1")
	a2 := newTestClient(1, "a2")
	b1 := newTestClient(2, "b1")

	m.addClient(a1)
	m.addClient(a2)
	m.addClient(b1)

	if got := len(m.localClients(1)); got != 2 {
		t.Errorf("expected 2 clients for user 1, got %d", got)
	}
	if !m.hasLocalClients(2) {
		t.Error("expected user 2 to have local clients")
	}
	if !m.isLocalConnAlive("a2") {
		t.Error("expected conn a2 to be alive")
	}

	m.removeClient(a1)
	if got := len(m.localClients(1)); got != 1 {
		t.Errorf("expected 1 client for user 1 after removal, got %d", got)
	}

	m.removeClient(a2)
	if m.hasLocalClients(1) {
		t.Error("expected user 1 to have no clients after removing all")
	}
	if m.isLocalConnAlive("a1") {
		t.Error("removed conn should not be alive")
	}
}

func TestManagerLocalUserIDs(t *testing.T) {
	m := NewWebSocketManager(nil)
	m.addClient(newTestClient(1, "a"))
	m.addClient(newTestClient(1, "b"))
	m.addClient(newTestClient(3, "c"))

	ids := m.localUserIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 users, got %d", len(ids))
	}
	seen := map[uint]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[1] || !seen[3] {
		t.Errorf("unexpected user ids: %v", ids)
	}
}

func TestClientSubjects(t *testing.T) {
	c := newTestClient(1, "a")
	if got := c.subjects(); len(got) != 0 {
		t.Errorf("expected no subjects initially, got %v", got)
	}

	c.subs["chat.user.1"] = nil
	c.subs["chat.conv.5"] = nil
	if got := c.subjects(); len(got) != 2 {
		t.Errorf("expected 2 subjects, got %v", got)
	}
}
