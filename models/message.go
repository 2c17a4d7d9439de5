package models

// Origin marks who produced a message from the local client's point of view.
type Origin string

const (
	// OriginSelf is a message typed locally and appended before any server echo.
	OriginSelf Origin = "self"
	// OriginPeer is a message delivered over the channel from another participant.
	OriginPeer Origin = "peer"
)

// Message is one chat message as held by the session.
type Message struct {
	ID             string `json:"id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	SentAt         string `json:"sent_at"`
	Origin         Origin `json:"origin"`
}
