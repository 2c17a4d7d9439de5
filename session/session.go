package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatlink/channel"
	"chatlink/models"
)

var (
	// ErrNoActiveConversation indicates an operation that needs an open
	// conversation was called before one was selected.
	ErrNoActiveConversation = errors.New("session: no active conversation")
)

// Channel is the real-time transport the session drives. *channel.Client
// satisfies it.
type Channel interface {
	Connect(identity channel.SetupPayload) error
	JoinConversation(conversationID string) error
	SendMessage(payload channel.MessagePayload) error
	OnMessageReceived(handler func(channel.MessagePayload))
	Close() error
}

// Backend is the slice of the HTTP backend the session needs. *backend.Client
// satisfies it.
type Backend interface {
	FetchMessages(ctx context.Context, localUserID, conversationID string) ([]models.Message, error)
	PersistMessage(ctx context.Context, message models.Message, conversation models.Conversation) error
}

// Options configures a session.
type Options struct {
	Identity models.UserRef
	Backend  Backend
	Channel  Channel
	Logger   zerolog.Logger
}

// Session ties the channel, the backend, and the per-conversation state
// together for one signed-in user. It owns the single inbound handler, the
// active conversation, the message store, and the notification ledger.
type Session struct {
	identity models.UserRef
	backend  Backend
	channel  Channel
	logger   zerolog.Logger

	store  *MessageStore
	ledger *NotificationLedger
	router *Router

	mu        sync.Mutex
	active    *models.Conversation
	selectGen uint64
	started   bool
}

// New creates a session with validated options.
func New(options Options) (*Session, error) {
	if options.Identity.ID == "" {
		return nil, errors.New("session: identity is required")
	}
	if options.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if options.Channel == nil {
		return nil, errors.New("session: channel is required")
	}

	store := NewMessageStore()
	ledger := NewNotificationLedger()

	return &Session{
		identity: options.Identity,
		backend:  options.Backend,
		channel:  options.Channel,
		logger:   options.Logger,
		store:    store,
		ledger:   ledger,
		router:   NewRouter(store, ledger, options.Logger),
	}, nil
}

// Start registers the inbound handler and connects the channel. The handler
// is installed exactly once per session; repeated calls to Start only retry
// the connection.
func (s *Session) Start() error {
	s.mu.Lock()
	alreadyStarted := s.started
	s.started = true
	s.mu.Unlock()

	if !alreadyStarted {
		s.channel.OnMessageReceived(s.handleInbound)
	}

	if err := s.channel.Connect(channel.SetupPayload{ID: s.identity.ID, Username: s.identity.Username}); err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}
	return nil
}

// handleInbound is the one handler ever registered with the channel. It
// reads the active conversation under the session lock so routing always
// sees the state a concurrent Select committed.
func (s *Session) handleInbound(payload channel.MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	activeID := ""
	if s.active != nil {
		activeID = s.active.ID
	}
	s.router.Dispatch(payload, activeID)
}

// Select makes the given conversation active: it fetches the persisted
// history, swaps the store contents, joins the conversation on the channel,
// and clears its pending notifications. If another Select starts before the
// history arrives, the late result is discarded and the newer selection
// wins. On a fetch error the previous conversation stays active untouched.
func (s *Session) Select(ctx context.Context, conversation models.Conversation) error {
	s.mu.Lock()
	s.selectGen++
	generation := s.selectGen
	s.mu.Unlock()

	history, err := s.backend.FetchMessages(ctx, s.identity.ID, conversation.ID)
	if err != nil {
		return fmt.Errorf("fetch conversation history: %w", err)
	}

	s.mu.Lock()
	if generation != s.selectGen {
		s.mu.Unlock()
		s.logger.Debug().
			Str("conversation_id", conversation.ID).
			Msg("discarding history for superseded selection")
		return nil
	}
	active := conversation
	s.active = &active
	s.store.Reset(history)
	s.mu.Unlock()

	if err := s.channel.JoinConversation(conversation.ID); err != nil {
		s.logger.Warn().
			Err(err).
			Str("conversation_id", conversation.ID).
			Msg("join conversation on channel failed")
	}
	s.ledger.ClearForConversation(conversation.ID)
	return nil
}

// Send persists an outbound message, mirrors it onto the channel, and echoes
// it into the local store. The channel emit is fire and forget: a transport
// fault is logged, never retried, and does not undo the persisted message.
func (s *Session) Send(ctx context.Context, body string) (models.Message, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return models.Message{}, ErrNoActiveConversation
	}
	conversation := *s.active
	generation := s.selectGen
	s.mu.Unlock()

	now := time.Now()
	message := models.Message{
		ID:             uuid.NewString(),
		SenderID:       s.identity.ID,
		SenderName:     s.identity.Username,
		ConversationID: conversation.ID,
		Body:           body,
		SentAt:         fmt.Sprintf("%d:%d", now.Hour(), now.Minute()),
		Origin:         models.OriginSelf,
	}

	if err := s.backend.PersistMessage(ctx, message, conversation); err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	payload := channel.MessagePayload{
		ID:      message.ID,
		To:      conversation.ID,
		From:    s.identity.ID,
		Name:    s.identity.Username,
		Message: body,
		Time:    message.SentAt,
		Chat:    channel.ChatFromConversation(conversation),
	}
	if err := s.channel.SendMessage(payload); err != nil {
		s.logger.Warn().
			Err(err).
			Str("message_id", message.ID).
			Msg("channel send failed")
	}

	s.mu.Lock()
	if generation == s.selectGen && s.active != nil && s.active.ID == conversation.ID {
		s.store.Append(message)
	}
	s.mu.Unlock()

	return message, nil
}

// OpenNotification selects the conversation a notification points at, which
// also clears its remaining notifications.
func (s *Session) OpenNotification(ctx context.Context, notification models.Notification) error {
	return s.Select(ctx, notification.Conversation)
}

// Active returns the currently selected conversation, if any.
func (s *Session) Active() (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return models.Conversation{}, false
	}
	return *s.active, true
}

// Messages returns the active conversation's messages in arrival order.
func (s *Session) Messages() []models.Message {
	return s.store.Messages()
}

// Notifications returns the pending notifications, newest first.
func (s *Session) Notifications() []models.Notification {
	return s.ledger.Pending()
}

// NotificationCount returns the number of pending notifications.
func (s *Session) NotificationCount() int {
	return s.ledger.Count()
}

// Identity returns the signed-in user.
func (s *Session) Identity() models.UserRef {
	return s.identity
}

// Close shuts down the channel.
func (s *Session) Close() error {
	return s.channel.Close()
}
