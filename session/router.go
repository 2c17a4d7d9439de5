package session

import (
	"github.com/rs/zerolog"

	"chatlink/channel"
	"chatlink/models"
)

// Router decides what happens to an inbound channel message: append it to
// the active conversation, or record a notification for a background one.
type Router struct {
	store  *MessageStore
	ledger *NotificationLedger
	logger zerolog.Logger
}

// NewRouter wires a router over the given store and ledger.
func NewRouter(store *MessageStore, ledger *NotificationLedger, logger zerolog.Logger) *Router {
	return &Router{store: store, ledger: ledger, logger: logger}
}

// Dispatch routes one decoded inbound message. Messages for the active
// conversation land in the store as peer messages; everything else becomes a
// notification, deduplicated by message id.
func (r *Router) Dispatch(payload channel.MessagePayload, activeConversationID string) {
	message := models.Message{
		ID:             payload.ID,
		SenderID:       payload.From,
		SenderName:     payload.Name,
		ConversationID: payload.Chat.ID,
		Body:           payload.Message,
		SentAt:         payload.Time,
		Origin:         models.OriginPeer,
	}

	if activeConversationID != "" && payload.Chat.ID == activeConversationID {
		r.store.Append(message)
		r.logger.Debug().
			Str("message_id", message.ID).
			Str("conversation_id", message.ConversationID).
			Msg("appended inbound message to active conversation")
		return
	}

	notification := models.Notification{
		MessageID:    payload.ID,
		Conversation: payload.Conversation(),
		Message:      message,
	}
	if r.ledger.Add(notification) {
		r.logger.Debug().
			Str("message_id", message.ID).
			Str("conversation_id", message.ConversationID).
			Msg("recorded notification for background conversation")
	}
}
