package service

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"social_chat/internal/repository"
	"social_chat/internal/storage"
)

// RoomManager 追蹤哪些連接訂閱了哪個會話的廣播通道
// 通道本身是跨進程的 NATS subject，這裡只管理本進程連接的加入與離開
type RoomManager struct {
	store         *storage.StateStore
	conversations repository.ConversationRepository
	manager       *WebSocketManager
}

func NewRoomManager(store *storage.StateStore, conversations repository.ConversationRepository, manager *WebSocketManager) *RoomManager {
	return &RoomManager{
		store:         store,
		conversations: conversations,
		manager:       manager,
	}
}

func roomMarkKey(conversationID, userID uint) string {
	return fmt.Sprintf("%d.%d", conversationID, userID)
}

// Join 讓用戶加入會話的廣播通道
// 非成員靜默拒絕；訂閱按連接冪等，重複加入是廉價無操作
func (m *RoomManager) Join(client *Client, conversationID uint) error {
	ok, err := m.conversations.IsMember(conversationID, client.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	subject := storage.ConvSubject(conversationID)
	for _, c := range m.manager.localClients(client.UserID) {
		if err := m.manager.subscribe(c, subject); err != nil {
			return err
		}
	}

	// 加入標記供投遞引擎判斷「在線但未加入通道」
	// 斷線不清除標記，靠重複加入的冪等性吸收過期狀態
	if _, err := m.store.Rooms.Get(roomMarkKey(conversationID, client.UserID)); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			m.store.Rooms.Put(roomMarkKey(conversationID, client.UserID), []byte("1"))
		}
	}
	return nil
}

// Leave 把用戶的本地連接移出指定會話的通道並清除標記
func (m *RoomManager) Leave(client *Client, conversationID uint) {
	subject := storage.ConvSubject(conversationID)
	for _, c := range m.manager.localClients(client.UserID) {
		m.manager.unsubscribe(c, subject)
	}
	m.store.Rooms.Delete(roomMarkKey(conversationID, client.UserID))
}

// LeaveAll 在斷線時把連接移出它加入的所有通道
// 私人身份通道保留，由斷線清理統一處理
func (m *RoomManager) LeaveAll(client *Client) {
	private := storage.UserSubject(client.UserID)
	for _, subject := range client.subjects() {
		if subject == private {
			continue
		}
		m.manager.unsubscribe(client, subject)
	}
}

// IsJoined 查詢用戶是否持有會話的加入標記
func (m *RoomManager) IsJoined(conversationID, userID uint) bool {
	_, err := m.store.Rooms.Get(roomMarkKey(conversationID, userID))
	return err == nil
}
