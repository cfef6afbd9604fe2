package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/snaplink/internal/broker"
	"github.com/snaplink/internal/delivery"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/typing"
)

// MessageStore — операции над сообщениями, нужные hub'у.
type MessageStore interface {
	MarkAsRead(ctx context.Context, viewerID, peerID string) (int64, error)
}

// FriendChecker проверяет, что пара — принятые друзья.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// CacheInvalidator сбрасывает кеш списка диалогов пользователя.
type CacheInvalidator interface {
	Invalidate(userID string)
}

// conversationSession — серверное состояние одной открытой переписки:
// подписки обоих путей доставки, приём реакций прочтения, typing-автоматы.
type conversationSession struct {
	msgSub    *delivery.Subscription
	readSub   *delivery.Subscription
	typingSub broker.Subscription
	emitter   *typing.Emitter
	display   *typing.Display
}

// close снимает подписки и гасит таймеры. Уже ушедшие в фоне markRead
// не отменяются: они идемпотентны и безвредны после закрытия.
func (s *conversationSession) close() {
	if s.msgSub != nil {
		s.msgSub.Close()
	}
	if s.readSub != nil {
		s.readSub.Close()
	}
	if s.typingSub != nil {
		s.typingSub.Close()
	}
	if s.emitter != nil {
		s.emitter.Close()
	}
	if s.display != nil {
		s.display.Close()
	}
}

// Options настраивают hub и его соединения. Нулевые значения заменяются
// значениями по умолчанию.
type Options struct {
	MaxConnections int
	SendBufferSize int
	MaxMessageSize int64
}

const (
	defaultMaxConns       = 10000
	defaultSendBufSize    = 256
	defaultMaxMessageSize = 4096
)

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	sendBufSize    int
	maxMessageSize int64

	transport  *delivery.Transport
	broker     broker.Broker
	msgRepo    MessageStore
	friendRepo FriendChecker
	agg        CacheInvalidator

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	transport *delivery.Transport,
	br broker.Broker,
	msgs MessageStore,
	friends FriendChecker,
	agg CacheInvalidator,
	opts Options,
) *Hub {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConns
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	return &Hub{
		clients:        make(map[string]map[*Client]struct{}),
		maxConns:       opts.MaxConnections,
		sendBufSize:    opts.SendBufferSize,
		maxMessageSize: opts.MaxMessageSize,
		transport:      transport,
		broker:         br,
		msgRepo:        msgs,
		friendRepo:     friends,
		agg:            agg,
		register:       make(chan *Client, 64),
		unregister:     make(chan *Client, 64),
		done:           make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O and session teardown outside the lock.
	c.Close()
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventConversationOpen:
		h.handleConversationOpen(ctx, c, msg)
	case EventConversationClose:
		h.handleConversationClose(c, msg)
	case EventTyping:
		h.handleTyping(c, msg)
	case EventNewMessage:
		h.handleNewMessage(ctx, c, msg)
	case EventRead:
		h.handleRead(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

// handleConversationOpen открывает переписку: оба пути доставки через общий
// дедуп, приём реакций прочтения, typing в обе стороны — и сразу помечает
// входящие прочитанными (открытие диалога = просмотр).
func (h *Hub) handleConversationOpen(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleConversationOpen", time.Now())()
	friendID := msg.FriendID
	if friendID == "" || friendID == c.userID {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "friend_id required"})
		return
	}

	c.sessMu.Lock()
	if _, exists := c.sessions[friendID]; exists {
		c.sessMu.Unlock()
		return
	}
	c.sessMu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ok, err := h.friendRepo.AreFriends(checkCtx, c.userID, friendID)
	cancel()
	if err != nil {
		logger.Errorf("ws check friendship user=%s friend=%s: %v", c.userID, friendID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
		return
	}
	if !ok {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not friends"})
		return
	}

	sess := &conversationSession{}

	sess.display = typing.NewDisplay(func(visible bool) {
		h.sendToClient(c, OutgoingMessage{Type: EventTypingState, Payload: TypingStatePayload{
			FriendID: friendID,
			Typing:   visible,
		}})
	})

	sess.emitter = typing.NewEmitter(func(isTyping bool) {
		payload, err := json.Marshal(TypingSignal{UserID: c.userID, FriendID: friendID, Typing: isTyping})
		if err != nil {
			return
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.broker.Publish(pubCtx, broker.TypingTopic(c.userID, friendID), payload); err != nil {
			// Typing-сигнал эфемерный: потеря допустима.
			logger.Debugf("ws typing publish user=%s: %v", c.userID, err)
		}
	})

	sub, err := h.transport.Subscribe(ctx, c.userID, friendID, func(m model.Message) {
		if m.SenderID == friendID {
			// Сообщение пришло — набор окончен, индикатор гаснет сразу.
			sess.display.MessageArrived()
		}
		h.sendToClient(c, OutgoingMessage{Type: EventNewMessage, Payload: m})
	})
	if err != nil {
		sess.close()
		logger.Errorf("ws subscribe user=%s friend=%s: %v", c.userID, friendID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "subscribe failed"})
		return
	}
	sess.msgSub = sub

	sess.readSub = h.transport.SubscribeReads(ctx, c.userID, friendID, func(messageID string) {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageRead, Payload: MessageReadPayload{
			FriendID:  friendID,
			MessageID: messageID,
		}})
	})

	typingSub, err := h.broker.Subscribe(ctx, broker.TypingTopic(friendID, c.userID), func(payload []byte) {
		var sig TypingSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			return
		}
		if sig.UserID == friendID && sig.FriendID == c.userID {
			sess.display.Signal(sig.Typing)
		}
	})
	if err != nil {
		// Без typing-топика переписка работает, просто нет индикатора.
		logger.Errorf("ws typing subscribe user=%s friend=%s: %v", c.userID, friendID, err)
	} else {
		sess.typingSub = typingSub
	}

	c.sessMu.Lock()
	if _, exists := c.sessions[friendID]; exists {
		c.sessMu.Unlock()
		sess.close()
		return
	}
	c.sessions[friendID] = sess
	c.sessMu.Unlock()

	h.markRead(ctx, c, friendID)
}

func (h *Hub) handleConversationClose(c *Client, msg IncomingMessage) {
	if msg.FriendID == "" {
		return
	}
	c.sessMu.Lock()
	sess, ok := c.sessions[msg.FriendID]
	delete(c.sessions, msg.FriendID)
	c.sessMu.Unlock()
	if ok {
		sess.close()
	}
}

// handleTyping регистрирует нажатие клавиши: дебаунс и эмиссию сигнала
// делает автомат переписки. Нажатия вне открытой переписки игнорируются.
func (h *Hub) handleTyping(c *Client, msg IncomingMessage) {
	c.sessMu.Lock()
	sess, ok := c.sessions[msg.FriendID]
	c.sessMu.Unlock()
	if ok {
		sess.emitter.Keystroke()
	}
}

func (h *Hub) handleNewMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleNewMessage", time.Now())()
	if msg.FriendID == "" || (msg.Content == "" && msg.MediaURL == "") {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "friend_id and content required"})
		return
	}
	if len(msg.Content) > model.MaxContentLength {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "content too long"})
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := h.friendRepo.AreFriends(sendCtx, c.userID, msg.FriendID)
	if err != nil {
		logger.Errorf("ws check friendship user=%s friend=%s: %v", c.userID, msg.FriendID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
		return
	}
	if !ok {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not friends"})
		return
	}

	kind := msg.Kind
	if kind == "" {
		kind = model.MessageKindText
	}
	m := &model.Message{
		SenderID:   c.userID,
		ReceiverID: msg.FriendID,
		Content:    msg.Content,
		Kind:       kind,
		MediaURL:   msg.MediaURL,
	}

	c.sessMu.Lock()
	sess, sessOpen := c.sessions[msg.FriendID]
	c.sessMu.Unlock()

	// Ack покажет сообщение сразу; при открытой переписке id глушится в
	// подписке до записи, чтобы обогнавшая лента не продублировала его.
	if sessOpen {
		err = h.transport.SendAcked(sendCtx, m, sess.msgSub)
	} else {
		err = h.transport.Send(sendCtx, m)
	}
	if err != nil {
		// Durable-запись не удалась: ошибка видимая, клиент может повторить.
		logger.Errorf("ws save message user=%s friend=%s: %v", c.userID, msg.FriendID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to save message"})
		return
	}

	if sessOpen {
		sess.emitter.MessageSent()
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: *m})
}

func (h *Hub) handleRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.FriendID == "" {
		return
	}
	h.markRead(ctx, c, msg.FriendID)
}

// markRead помечает прочитанным всё входящее от friendID. Ошибка не
// ретраится на месте: следующий фокус диалога повторит пометку сам.
func (h *Hub) markRead(ctx context.Context, c *Client, friendID string) {
	markCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := h.msgRepo.MarkAsRead(markCtx, c.userID, friendID)
	if err != nil {
		logger.Errorf("ws mark read user=%s friend=%s: %v", c.userID, friendID, err)
		return
	}
	if n > 0 {
		h.agg.Invalidate(c.userID)
	}
}

// SendToUser доставляет событие всем соединениям пользователя (если есть).
func (h *Hub) SendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
