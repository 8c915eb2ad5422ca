package models

import "testing"

func TestMessageStatusRevokedForMe(t *testing.T) {
	cases := []struct {
		name   string
		status MessageStatus
		want   bool
	}{
		{"未撤回", MessageStatus{}, false},
		{"for-me 撤回", MessageStatus{IsRevoked: true, RevokeType: RevokeForMe}, true},
		{"for-other 撤回", MessageStatus{IsRevoked: true, RevokeType: RevokeForOther}, false},
	}
	for _, c := range cases {
		if got := c.status.RevokedForMe(); got != c.want {
			t.Errorf("%s: RevokedForMe = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestConversationIsGroup(t *testing.T) {
	direct := &Conversation{Type: ConversationDirect}
	group := &Conversation{Type: ConversationGroup}

	if direct.IsGroup() {
		t.Error("direct conversation should not be a group")
	}
	if !group.IsGroup() {
		t.Error("group conversation should be a group")
	}
}
