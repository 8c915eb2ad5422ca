package repository

import (
	"testing"

	"gorm.io/gorm"

	"social_chat/internal/models"
)

func TestForOtherRevocationTargets_KeepsForMeMark(t *testing.T) {
	statuses := []models.MessageStatus{
		{Model: gorm.Model{ID: 1}, ReceiverID: 2, IsRevoked: true, RevokeType: models.RevokeForMe},
		{Model: gorm.Model{ID: 2}, ReceiverID: 3},
		{Model: gorm.Model{ID: 3}, ReceiverID: 4, IsRevoked: true, RevokeType: models.RevokeForOther},
	}

	ids := forOtherRevocationTargets(statuses)

	// 接收者 2 已對自己撤回，這一行必須保持原樣：
	// 改寫標記會讓這條消息重新計入他的最後已讀位置
	if len(ids) != 2 {
		t.Fatalf("expected 2 targets, got %v", ids)
	}
	if ids[0] != 2 || ids[1] != 3 {
		t.Errorf("expected rows 2 and 3 only, got %v", ids)
	}
}

func TestForOtherRevocationTargets_Empty(t *testing.T) {
	if got := forOtherRevocationTargets(nil); len(got) != 0 {
		t.Errorf("expected no targets for no statuses, got %v", got)
	}
}
