package domain

import "testing"

func TestValidConversationRole(t *testing.T) {
	for role, want := range map[string]bool{
		RoleUser:      true,
		RoleAssistant: true,
		RoleSystem:    false,
		"tool":        false,
		"":            false,
	} {
		if got := ValidConversationRole(role); got != want {
			t.Errorf("ValidConversationRole(%q) = %v, want %v", role, got, want)
		}
	}
}

func TestChatRequestSystemPrompt(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}}
	if got := req.SystemPrompt(); got != "be brief" {
		t.Errorf("SystemPrompt() = %q, want %q", got, "be brief")
	}
	if got := (ChatRequest{}).SystemPrompt(); got != "" {
		t.Errorf("SystemPrompt() on empty = %q", got)
	}
}
