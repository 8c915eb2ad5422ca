package service

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"social_chat/internal/storage"
)

// Client 代表一個 WebSocket 客戶端連接
// 一條連接只屬於一個用戶，隨斷線銷毀，永不持久化
type Client struct {
	ID       string          // 連接 ID，跨進程唯一
	UserID   uint            // 持有者的用戶 ID
	Conn     *websocket.Conn // WebSocket 連接
	SendChan chan []byte     // 出站訊框隊列，異步發送

	subsMux sync.Mutex
	subs    map[string]*nats.Subscription // 已訂閱的廣播 subject

	sendMux    sync.Mutex
	sendClosed bool
}

// enqueue 嘗試把一個出站訊框放進發送隊列
// NATS 的回調可能在退訂後仍有一次在途投遞，關閉後的入隊
// 必須安全拒絕而不是 panic；隊列滿同樣回報失敗
func (c *Client) enqueue(frame []byte) bool {
	c.sendMux.Lock()
	defer c.sendMux.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.SendChan <- frame:
		return true
	default:
		return false
	}
}

// closeSend 關閉發送隊列，重複呼叫為無操作
func (c *Client) closeSend() {
	c.sendMux.Lock()
	defer c.sendMux.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.SendChan)
	}
}

// subjects 回傳此連接目前訂閱的所有 subject
func (c *Client) subjects() []string {
	c.subsMux.Lock()
	defer c.subsMux.Unlock()
	result := make([]string, 0, len(c.subs))
	for subject := range c.subs {
		result = append(result, subject)
	}
	return result
}

// WebSocketManager 管理本進程的所有連接並分派入站事件
type WebSocketManager struct {
	store      *storage.StateStore
	clients    map[uint]map[*Client]bool // userID -> 本地連接集合
	clientsMux sync.RWMutex

	registry *SocketRegistry
	presence *PresenceTracker
	rooms    *RoomManager
	delivery *DeliveryEngine
	calls    *CallRelay
}

// NewWebSocketManager 創建連接管理器，協作服務由 wire 注入
func NewWebSocketManager(store *storage.StateStore) *WebSocketManager {
	return &WebSocketManager{
		store:   store,
		clients: make(map[uint]map[*Client]bool),
	}
}

func (m *WebSocketManager) wire(registry *SocketRegistry, presence *PresenceTracker, rooms *RoomManager, delivery *DeliveryEngine, calls *CallRelay) {
	m.registry = registry
	m.presence = presence
	m.rooms = rooms
	m.delivery = delivery
	m.calls = calls
}

// HandleConnection 處理一條新的 WebSocket 連接
// 身份在升級前已由中間件驗證，這裡只負責接線與斷線清理
func (m *WebSocketManager) HandleConnection(conn *websocket.Conn, userID uint) {
	client := &Client{
		ID:       nuid.Next(),
		UserID:   userID,
		Conn:     conn,
		SendChan: make(chan []byte, 256),
		subs:     make(map[string]*nats.Subscription),
	}

	m.addClient(client)

	// 註冊失敗只影響即時投遞，消息仍可從持久化讀取
	if err := m.registry.Register(userID, client.ID); err != nil {
		log.Printf("socket register failed for user %d: %v", userID, err)
	}
	// 私人通道：任何進程都能把事件送達此連接
	if err := m.subscribe(client, storage.UserSubject(userID)); err != nil {
		log.Printf("user channel subscribe failed for user %d: %v", userID, err)
	}

	m.presence.HandleConnect(userID)

	defer func() {
		m.rooms.LeaveAll(client)
		m.unsubscribeAll(client)
		if err := m.registry.Unregister(userID, client.ID); err != nil {
			log.Printf("socket unregister failed for user %d: %v", userID, err)
		}
		m.removeClient(client)
		conn.Close()
		client.closeSend()
		m.presence.HandleDisconnect(userID)
	}()

	go m.writePump(client)
	m.readPump(client)
}

// readPump 持續讀取並分派入站事件，單條連接內按到達順序處理
func (m *WebSocketManager) readPump(client *Client) {
	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket unexpected close error: %v", err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("frame parse error from user %d: %v", client.UserID, err)
			continue
		}

		// 單一事件的失敗只記錄，不影響這條連接的後續事件，
		// 更不影響其他用戶
		if err := m.dispatch(client, frame); err != nil {
			log.Printf("event %s failed for user %d: %v", frame.Event, client.UserID, err)
		}
	}
}

// writePump 處理向客戶端發送訊框與心跳
func (m *WebSocketManager) writePump(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.SendChan:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 按事件名解碼並呼叫對應的服務
func (m *WebSocketManager) dispatch(client *Client, frame Frame) error {
	switch frame.Event {
	case EventJoinRoom:
		var p struct {
			ConversationID uint `json:"conversation_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.rooms.Join(client, p.ConversationID)

	case EventNewMessage:
		var p struct {
			ConversationID uint   `json:"conversation_id"`
			Content        string `json:"content"`
			Type           string `json:"type"`
			ParentID       *uint  `json:"parent_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		_, err := m.delivery.Send(p.ConversationID, client.UserID, p.Content, p.Type, p.ParentID)
		return err

	case EventReadMessage:
		var p struct {
			ConversationID uint `json:"conversation_id"`
			MessageID      uint `json:"message_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.delivery.MarkRead(p.ConversationID, p.MessageID, client.UserID)

	case EventReactMessage:
		var p struct {
			MessageID uint   `json:"message_id"`
			React     string `json:"react"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.delivery.React(p.MessageID, client.UserID, p.React)

	case EventRemoveReaction:
		var p struct {
			MessageID uint `json:"message_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.delivery.RemoveReaction(p.MessageID, client.UserID)

	case EventTyping:
		var p struct {
			ConversationID uint `json:"conversation_id"`
			IsTyping       bool `json:"is_typing"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.delivery.Typing(p.ConversationID, client.UserID, p.IsTyping)

	case EventInitiateCall:
		var p struct {
			CalleeID       uint   `json:"callee_id"`
			Type           string `json:"type"`
			ConversationID uint   `json:"conversation_id"`
			CallID         string `json:"call_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.calls.Initiate(client.UserID, p.CalleeID, p.Type, p.ConversationID, p.CallID)

	case EventAcceptedCall:
		var p struct {
			CallerID uint   `json:"caller_id"`
			PeerID   string `json:"peer_id"`
			CallID   string `json:"call_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.calls.Accept(p.CallerID, client.UserID, p.PeerID, p.CallID, client.ID)

	case EventEndCall:
		var p struct {
			CallerID       uint   `json:"caller_id"`
			CalleeID       uint   `json:"callee_id"`
			CallID         string `json:"call_id"`
			ConversationID uint   `json:"conversation_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.calls.End(p.CallerID, p.CalleeID, p.CallID, p.ConversationID)

	case EventRenegotiationOffer, EventRenegotiationAnswer:
		var p struct {
			ToID    uint            `json:"to_id"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.calls.Renegotiate(client.UserID, p.ToID, frame.Event, p.Payload)

	case EventRejectCall:
		var p struct {
			CallerID uint `json:"caller_id"`
		}
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return m.calls.Reject(p.CallerID)

	default:
		log.Printf("unknown event %q from user %d", frame.Event, client.UserID)
		return nil
	}
}

// subscribe 讓一條連接訂閱一個廣播 subject，重複訂閱為無操作
func (m *WebSocketManager) subscribe(client *Client, subject string) error {
	client.subsMux.Lock()
	defer client.subsMux.Unlock()

	if _, ok := client.subs[subject]; ok {
		return nil
	}

	sub, err := m.store.Subscribe(subject, func(data []byte) {
		var frame pushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		if frame.ExcludeUserID != 0 && frame.ExcludeUserID == client.UserID {
			return
		}
		if frame.ExcludeConnID != "" && frame.ExcludeConnID == client.ID {
			return
		}
		out, err := json.Marshal(Frame{Event: frame.Event, Data: frame.Data})
		if err != nil {
			return
		}
		// 隊列滿表示客戶端已死或過慢，斷開它，不拖累其他接收者；
		// 入隊被拒也可能是連接正在收尾，此時 Close 是無害的重複
		if !client.enqueue(out) {
			client.Conn.Close()
		}
	})
	if err != nil {
		return ErrStoreUnavailable
	}
	client.subs[subject] = sub
	return nil
}

// unsubscribe 解除一條連接對 subject 的訂閱
func (m *WebSocketManager) unsubscribe(client *Client, subject string) {
	client.subsMux.Lock()
	defer client.subsMux.Unlock()
	if sub, ok := client.subs[subject]; ok {
		sub.Unsubscribe()
		delete(client.subs, subject)
	}
}

func (m *WebSocketManager) unsubscribeAll(client *Client) {
	for _, subject := range client.subjects() {
		m.unsubscribe(client, subject)
	}
}

// addClient 安全地添加新的客戶端連接
func (m *WebSocketManager) addClient(client *Client) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	if m.clients[client.UserID] == nil {
		m.clients[client.UserID] = make(map[*Client]bool)
	}
	m.clients[client.UserID][client] = true
}

// removeClient 安全地移除客戶端連接
func (m *WebSocketManager) removeClient(client *Client) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	if clients, ok := m.clients[client.UserID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(m.clients, client.UserID)
		}
	}
}

// localClients 回傳用戶在本進程的所有連接
func (m *WebSocketManager) localClients(userID uint) []*Client {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	result := make([]*Client, 0, len(m.clients[userID]))
	for client := range m.clients[userID] {
		result = append(result, client)
	}
	return result
}

func (m *WebSocketManager) hasLocalClients(userID uint) bool {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	return len(m.clients[userID]) > 0
}

// localUserIDs 回傳本進程上持有連接的全部用戶，心跳續期用
func (m *WebSocketManager) localUserIDs() []uint {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	result := make([]uint, 0, len(m.clients))
	for userID := range m.clients {
		result = append(result, userID)
	}
	return result
}

// isLocalConnAlive 檢查連接 ID 是否還存活在本進程
func (m *WebSocketManager) isLocalConnAlive(connID string) bool {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	for _, clients := range m.clients {
		for client := range clients {
			if client.ID == connID {
				return true
			}
		}
	}
	return false
}
