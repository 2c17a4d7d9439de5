package models

import "testing"

func TestDisplayNamePicksOtherParticipant(t *testing.T) {
	conversation := Conversation{
		ID:           "c1",
		Participants: []UserRef{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}},
	}

	if got := conversation.DisplayName("u1"); got != "bob" {
		t.Fatalf("expected bob, got %q", got)
	}
	if got := conversation.DisplayName("u2"); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
}

func TestDisplayNameUsesGroupName(t *testing.T) {
	conversation := Conversation{
		ID:      "c2",
		IsGroup: true,
		Name:    "weekend plans",
		Participants: []UserRef{
			{ID: "u1", Username: "alice"},
			{ID: "u2", Username: "bob"},
			{ID: "u3", Username: "carol"},
		},
	}

	if got := conversation.DisplayName("u1"); got != "weekend plans" {
		t.Fatalf("expected group name, got %q", got)
	}
}

func TestNotificationLabel(t *testing.T) {
	direct := Notification{
		Conversation: Conversation{
			ID:           "c1",
			Participants: []UserRef{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}},
		},
	}
	if got := direct.Label("u1"); got != "New Message from bob" {
		t.Fatalf("unexpected direct label %q", got)
	}

	group := Notification{
		Conversation: Conversation{ID: "c2", IsGroup: true, Name: "weekend plans"},
	}
	if got := group.Label("u1"); got != "New Message in weekend plans" {
		t.Fatalf("unexpected group label %q", got)
	}
}
