package ws

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brokermem "github.com/snaplink/internal/broker/memory"
	"github.com/snaplink/internal/delivery"
	"github.com/snaplink/internal/feed"
	"github.com/snaplink/internal/model"
)

// fakeStore пишет сообщения в память; onCreate позволяет эмулировать ленту,
// узнавшую о записи раньше, чем Send вернул управление.
type fakeStore struct {
	mu       sync.Mutex
	msgs     []model.Message
	onCreate func(m model.Message)
}

func (s *fakeStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	m.CreatedAt = time.Now().UTC()
	s.msgs = append(s.msgs, *m)
	hook := s.onCreate
	s.mu.Unlock()
	if hook != nil {
		hook(*m)
	}
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type fakeFriends struct {
	mu    sync.Mutex
	pairs map[string]bool
}

func (f *fakeFriends) allow(a, b string) {
	f.mu.Lock()
	f.pairs[a+"|"+b] = true
	f.pairs[b+"|"+a] = true
	f.mu.Unlock()
}

func (f *fakeFriends) AreFriends(_ context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairs[a+"|"+b], nil
}

type fakeMarker struct {
	mu     sync.Mutex
	marked int64
	calls  [][2]string
}

func (m *fakeMarker) MarkAsRead(_ context.Context, viewer, peer string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, [2]string{viewer, peer})
	return m.marked, nil
}

type fakeCache struct {
	mu  sync.Mutex
	ids []string
}

func (c *fakeCache) Invalidate(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *fakeCache) invalidated(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.ids {
		if got == id {
			return true
		}
	}
	return false
}

type hubEnv struct {
	hub     *Hub
	store   *fakeStore
	marker  *fakeMarker
	cache   *fakeCache
	friends *fakeFriends
	br      *brokermem.Client
	fd      *feed.Memory
}

func newHubEnv(t *testing.T) *hubEnv {
	t.Helper()
	store := &fakeStore{}
	br := brokermem.New()
	fd := feed.NewMemory()
	tr := delivery.NewTransport(store, br, fd, delivery.Options{})
	env := &hubEnv{
		store:   store,
		marker:  &fakeMarker{marked: 1},
		cache:   &fakeCache{},
		friends: &fakeFriends{pairs: make(map[string]bool)},
		br:      br,
		fd:      fd,
	}
	env.hub = NewHub(tr, br, env.marker, env.friends, env.cache, Options{})
	return env
}

func newTestClient(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(h, nil, userID)
	t.Cleanup(c.closeSessions)
	return c
}

func (e *hubEnv) open(t *testing.T, c *Client, friendID string) {
	t.Helper()
	e.hub.HandleMessage(context.Background(), c, IncomingMessage{Type: EventConversationOpen, FriendID: friendID})
	c.sessMu.Lock()
	_, ok := c.sessions[friendID]
	c.sessMu.Unlock()
	require.True(t, ok, "переписка %s/%s не открылась", c.userID, friendID)
}

func recvEvent(t *testing.T, c *Client) OutgoingMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("событие не пришло")
		return OutgoingMessage{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("неожиданное событие %s", msg.Type)
	default:
	}
}

func TestHubOpenRejectsStranger(t *testing.T) {
	env := newHubEnv(t)
	alice := newTestClient(t, env.hub, "alice")

	env.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventConversationOpen, FriendID: "mallory"})

	ev := recvEvent(t, alice)
	assert.Equal(t, EventError, ev.Type)
	alice.sessMu.Lock()
	assert.Empty(t, alice.sessions)
	alice.sessMu.Unlock()
}

func TestHubOpenMarksIncomingRead(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")

	env.open(t, alice, "bob")

	env.marker.mu.Lock()
	require.NotEmpty(t, env.marker.calls, "открытие диалога помечает входящие прочитанными")
	assert.Equal(t, [2]string{"alice", "bob"}, env.marker.calls[0])
	env.marker.mu.Unlock()
	assert.True(t, env.cache.invalidated("alice"), "пометка прочитанным сбрасывает кеш диалогов")
}

func TestHubMessageFlow(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")
	bob := newTestClient(t, env.hub, "bob")
	ctx := context.Background()

	env.open(t, alice, "bob")
	env.open(t, bob, "alice")

	env.hub.HandleMessage(ctx, bob, IncomingMessage{Type: EventNewMessage, FriendID: "alice", Content: "привет"})

	sent := recvEvent(t, bob)
	require.Equal(t, EventMessageSent, sent.Type)
	m, ok := sent.Payload.(model.Message)
	require.True(t, ok)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "привет", m.Content)

	got := recvEvent(t, alice)
	require.Equal(t, EventNewMessage, got.Type)
	gm, ok := got.Payload.(model.Message)
	require.True(t, ok)
	assert.Equal(t, m.ID, gm.ID)

	// Лента приносит ту же запись следом — дубликатов нет ни у кого.
	env.fd.Emit(feed.Event{Op: feed.OpInsert, Message: m})
	assertNoEvent(t, alice)
	assertNoEvent(t, bob)
}

func TestHubAckSuppressesRacingFeedEcho(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")

	env.open(t, alice, "bob")

	// Лента узнаёт о записи сразу после коммита, до возврата из Send.
	env.store.onCreate = func(m model.Message) {
		env.fd.Emit(feed.Event{Op: feed.OpInsert, Message: m})
	}
	env.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventNewMessage, FriendID: "bob", Content: "hi"})

	ev := recvEvent(t, alice)
	assert.Equal(t, EventMessageSent, ev.Type, "отправитель видит только ack")
	assertNoEvent(t, alice)
}

func TestHubRejectsOversizedContent(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")

	long := strings.Repeat("a", model.MaxContentLength+1)
	env.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventNewMessage, FriendID: "bob", Content: long})

	ev := recvEvent(t, alice)
	assert.Equal(t, EventError, ev.Type)
	assert.Zero(t, env.store.count(), "слишком длинное сообщение не записывается")
}

func TestHubReadReceipt(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")

	env.open(t, alice, "bob")

	env.fd.Emit(feed.Event{Op: feed.OpUpdate, Message: model.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob", Read: true,
	}})

	ev := recvEvent(t, alice)
	require.Equal(t, EventMessageRead, ev.Type)
	p, ok := ev.Payload.(MessageReadPayload)
	require.True(t, ok)
	assert.Equal(t, "bob", p.FriendID)
	assert.Equal(t, "m1", p.MessageID)
}

func TestHubConversationCloseReleasesSubscriptions(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")
	ctx := context.Background()

	env.open(t, alice, "bob")
	env.hub.HandleMessage(ctx, alice, IncomingMessage{Type: EventConversationClose, FriendID: "bob"})

	alice.sessMu.Lock()
	assert.Empty(t, alice.sessions)
	alice.sessMu.Unlock()

	m := &model.Message{SenderID: "bob", ReceiverID: "alice", Content: "hi"}
	require.NoError(t, env.hub.transport.Send(ctx, m))
	env.fd.Emit(feed.Event{Op: feed.OpInsert, Message: *m})
	assertNoEvent(t, alice)
}

func TestHubDisconnectReleasesSessions(t *testing.T) {
	env := newHubEnv(t)
	env.friends.allow("alice", "bob")
	alice := newTestClient(t, env.hub, "alice")
	ctx := context.Background()

	env.open(t, alice, "bob")
	alice.closeSessions()

	alice.sessMu.Lock()
	assert.Empty(t, alice.sessions)
	alice.sessMu.Unlock()

	m := &model.Message{SenderID: "bob", ReceiverID: "alice", Content: "hi"}
	require.NoError(t, env.hub.transport.Send(ctx, m))
	env.fd.Emit(feed.Event{Op: feed.OpInsert, Message: *m})
	assertNoEvent(t, alice)
}

func TestHubTypingWithoutSessionIgnored(t *testing.T) {
	env := newHubEnv(t)
	alice := newTestClient(t, env.hub, "alice")

	env.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventTyping, FriendID: "bob"})
	assertNoEvent(t, alice)
}

func TestHubUnknownEventType(t *testing.T) {
	env := newHubEnv(t)
	alice := newTestClient(t, env.hub, "alice")

	env.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: "nonsense"})
	ev := recvEvent(t, alice)
	assert.Equal(t, EventError, ev.Type)
}

func TestHubOptionsApplyToClients(t *testing.T) {
	env := newHubEnv(t)
	h := NewHub(env.hub.transport, env.br, env.marker, env.friends, env.cache, Options{
		SendBufferSize: 8,
		MaxMessageSize: 1024,
	})
	c := NewClient(h, nil, "alice")
	assert.Equal(t, 8, cap(c.send), "размер буфера отправки берётся из настроек")
	assert.Equal(t, int64(1024), h.maxMessageSize)

	defaults := NewHub(env.hub.transport, env.br, env.marker, env.friends, env.cache, Options{})
	assert.Equal(t, defaultMaxConns, defaults.maxConns)
	assert.Equal(t, defaultSendBufSize, cap(NewClient(defaults, nil, "bob").send))
	assert.Equal(t, int64(defaultMaxMessageSize), defaults.maxMessageSize)
}
