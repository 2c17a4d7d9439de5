package models

// Notification records an inbound message that arrived for a conversation other
// than the active one, pending user attention.
type Notification struct {
	MessageID    string       `json:"message_id"`
	Conversation Conversation `json:"conversation"`
	Message      Message      `json:"message"`
}

// Label renders the badge-menu line for this notification.
func (n Notification) Label(localUserID string) string {
	if n.Conversation.IsGroup {
		return "New Message in " + n.Conversation.Name
	}
	return "New Message from " + n.Conversation.DisplayName(localUserID)
}
