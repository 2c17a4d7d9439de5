package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"chatlink/models"
)

// Event names are fixed by the server protocol, including its historical
// spelling of the inbound delivery event.
const (
	EventSetup      = "setup"
	EventJoinChat   = "join_chat"
	EventSendMsg    = "send_msg"
	EventMsgReceive = "msg_recieve"
)

var (
	// ErrMalformedPayload indicates an inbound message missing required identity fields.
	ErrMalformedPayload = errors.New("channel: malformed message payload")
)

// Envelope frames every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetupPayload announces the local identity so the server can route deliveries.
type SetupPayload struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// WireUser is a participant reference as the server serializes it.
type WireUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// WireChat is the conversation object embedded in every message envelope.
type WireChat struct {
	ID          string     `json:"_id"`
	IsGroupChat bool       `json:"isGroupChat"`
	ChatName    string     `json:"chatName"`
	Users       []WireUser `json:"users"`
}

// MessagePayload is the message envelope carried by send_msg and msg_recieve.
type MessagePayload struct {
	ID      string   `json:"_id"`
	To      string   `json:"to"`
	From    string   `json:"from"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Time    string   `json:"time"`
	Chat    WireChat `json:"chat"`
}

// Conversation converts the embedded chat object into the domain model. The
// router must use this, not any captured conversation reference, when deciding
// where an inbound message belongs.
func (p MessagePayload) Conversation() models.Conversation {
	participants := make([]models.UserRef, 0, len(p.Chat.Users))
	for _, user := range p.Chat.Users {
		participants = append(participants, models.UserRef{ID: user.ID, Username: user.Username})
	}
	return models.Conversation{
		ID:           p.Chat.ID,
		IsGroup:      p.Chat.IsGroupChat,
		Name:         p.Chat.ChatName,
		Participants: participants,
	}
}

// ChatFromConversation converts a domain conversation into its wire shape.
func ChatFromConversation(conversation models.Conversation) WireChat {
	users := make([]WireUser, 0, len(conversation.Participants))
	for _, participant := range conversation.Participants {
		users = append(users, WireUser{ID: participant.ID, Username: participant.Username})
	}
	return WireChat{
		ID:          conversation.ID,
		IsGroupChat: conversation.IsGroup,
		ChatName:    conversation.Name,
		Users:       users,
	}
}

// EncodeEvent marshals an event name and payload into one wire frame.
func EncodeEvent(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = encoded
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return frame, nil
}

// DecodeMessagePayload parses msg_recieve data. The server sometimes serializes
// the envelope as a JSON-encoded string rather than an object; both forms are
// accepted. Payloads missing the message or conversation identity are rejected.
func DecodeMessagePayload(raw json.RawMessage) (MessagePayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return MessagePayload{}, ErrMalformedPayload
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return MessagePayload{}, fmt.Errorf("decode string-framed payload: %w", err)
		}
		trimmed = []byte(text)
	}

	var payload MessagePayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return MessagePayload{}, fmt.Errorf("decode message payload: %w", err)
	}
	if payload.ID == "" || payload.Chat.ID == "" {
		return MessagePayload{}, ErrMalformedPayload
	}
	return payload, nil
}
