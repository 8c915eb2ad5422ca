package service

import (
	"testing"

	"social_chat/internal/models"
	"social_chat/internal/repository"
	"social_chat/internal/storage"
)

func TestReadReceiptSubjects(t *testing.T) {
	// 讀者已加入通道：通道廣播已覆蓋他的每一條連接，
	// 再走私人通道會讓同一條連接收到兩次回執
	joined := readReceiptSubjects(5, 7, true)
	if len(joined) != 1 || joined[0] != storage.ConvSubject(5) {
		t.Errorf("joined reader should only get the channel broadcast, got %v", joined)
	}

	apart := readReceiptSubjects(5, 7, false)
	if len(apart) != 2 || apart[0] != storage.ConvSubject(5) || apart[1] != storage.UserSubject(7) {
		t.Errorf("reader outside the channel should also get a private push, got %v", apart)
	}
}

func TestHiddenForViewer(t *testing.T) {
	forMe := &models.MessageStatus{
		ReceiverID: 1,
		IsRevoked:  true,
		RevokeType: models.RevokeForMe,
	}
	plain := &models.MessageStatus{ReceiverID: 2}

	cases := []struct {
		name            string
		revokedForOther bool
		status          *models.MessageStatus
		want            bool
	}{
		{"未撤回", false, plain, false},
		{"for-me 撤回者本人", false, forMe, true},
		{"for-me 其他查看者", false, plain, false},
		{"for-other 任何查看者", true, plain, true},
		{"for-other 無狀態行的查看者", true, nil, true},
		{"發送者視角未撤回", false, nil, false},
	}
	for _, c := range cases {
		if got := hiddenForViewer(c.revokedForOther, c.status); got != c.want {
			t.Errorf("%s: hiddenForViewer = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestTopReactions(t *testing.T) {
	counts := []repository.ReactionCount{
		{React: "👍", Count: 5},
		{React: "❤️", Count: 3},
		{React: "😂", Count: 1},
	}

	top := topReactions(counts, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 reactions, got %d", len(top))
	}
	if top[0].React != "👍" || top[1].React != "❤️" {
		t.Errorf("unexpected top reactions: %v", top)
	}
}

func TestTopReactions_FewerThanLimit(t *testing.T) {
	counts := []repository.ReactionCount{{React: "👍", Count: 1}}
	top := topReactions(counts, 2)
	if len(top) != 1 {
		t.Errorf("expected 1 reaction, got %d", len(top))
	}

	if got := topReactions(nil, 2); len(got) != 0 {
		t.Errorf("expected empty result for no reactions, got %v", got)
	}
}

func TestStatusOf(t *testing.T) {
	statuses := []models.MessageStatus{
		{ReceiverID: 1, Status: models.StatusSent},
		{ReceiverID: 2, Status: models.StatusDelivered},
	}

	if st := statusOf(statuses, 2); st == nil || st.Status != models.StatusDelivered {
		t.Errorf("expected delivered status for receiver 2, got %v", st)
	}
	if st := statusOf(statuses, 9); st != nil {
		t.Errorf("expected nil for unknown receiver, got %v", st)
	}
}

func TestContainsID(t *testing.T) {
	ids := []uint{1, 2, 3}
	if !containsID(ids, 2) {
		t.Error("expected 2 to be found")
	}
	if containsID(ids, 4) {
		t.Error("expected 4 to be absent")
	}
	if containsID(nil, 1) {
		t.Error("expected nothing in nil slice")
	}
}
