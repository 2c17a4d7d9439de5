package models

// UserRef identifies a chat participant.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Conversation is a 1:1 or group chat thread. The session only ever holds a
// reference to the currently selected one; the full list is owned by the backend.
type Conversation struct {
	ID           string    `json:"id"`
	IsGroup      bool      `json:"is_group"`
	Name         string    `json:"name"`
	Participants []UserRef `json:"participants"`
}

// DisplayName returns the group name for group chats, otherwise the other
// participant's username.
func (c Conversation) DisplayName(localUserID string) string {
	if c.IsGroup {
		return c.Name
	}
	for _, participant := range c.Participants {
		if participant.ID != localUserID {
			return participant.Username
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0].Username
	}
	return c.Name
}
