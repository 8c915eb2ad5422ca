package service

import (
	"social_chat/internal/repository"
	"social_chat/internal/storage"
)

type Services struct {
	User         *UserService
	Conversation *ConversationService
	WebSocket    *WebSocketManager
	Presence     *PresenceTracker
	Delivery     *DeliveryEngine
	Calls        *CallRelay
}

// NewServices 按依賴順序組裝所有服務並啟動心跳
func NewServices(repos *repository.Repositories, store *storage.StateStore) *Services {
	manager := NewWebSocketManager(store)
	registry := NewSocketRegistry(store.Sockets)
	presence := NewPresenceTracker(store, repos.User, registry, manager)
	rooms := NewRoomManager(store, repos.Conversation, manager)
	delivery := NewDeliveryEngine(store, repos.Message, repos.Conversation, presence, registry, rooms, manager)
	calls := NewCallRelay(store, repos.Conversation, registry, delivery)
	manager.wire(registry, presence, rooms, delivery, calls)

	presence.StartHeartbeat()

	return &Services{
		User:         NewUserService(repos.User),
		Conversation: NewConversationService(repos.Conversation, delivery),
		WebSocket:    manager,
		Presence:     presence,
		Delivery:     delivery,
		Calls:        calls,
	}
}
