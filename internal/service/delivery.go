package service

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	"social_chat/internal/models"
	"social_chat/internal/repository"
	"social_chat/internal/storage"
)

// HiddenContent 是撤回後對查看者顯示的替代內容
const HiddenContent = "此消息已被撤回"

// convSnapshot 是共享快取中的會話成員快照
// 只快取雙人會話：群組成員變動太頻繁，快取不安全
type convSnapshot struct {
	MemberIDs []uint `json:"member_ids"`
	IsGroup   bool   `json:"is_group"`
}

// DeliveryEngine 負責消息、狀態與表情的持久化和扇出，
// 持有投遞狀態機與撤回可見性規則
type DeliveryEngine struct {
	store         *storage.StateStore
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	presence      *PresenceTracker
	registry      *SocketRegistry
	rooms         *RoomManager
	manager       *WebSocketManager
}

func NewDeliveryEngine(store *storage.StateStore, messages repository.MessageRepository, conversations repository.ConversationRepository, presence *PresenceTracker, registry *SocketRegistry, rooms *RoomManager, manager *WebSocketManager) *DeliveryEngine {
	return &DeliveryEngine{
		store:         store,
		messages:      messages,
		conversations: conversations,
		presence:      presence,
		registry:      registry,
		rooms:         rooms,
		manager:       manager,
	}
}

// MessagePayload 是 NEW_MESSAGE 事件的內容
type MessagePayload struct {
	Message       models.Message         `json:"message"`
	Statuses      []models.MessageStatus `json:"statuses"`
	ParentContent string                 `json:"parent_content,omitempty"`
}

// ReadReceiptPayload 是 UPDATE_READ_MESSAGE 事件的內容
type ReadReceiptPayload struct {
	Message           models.Message `json:"message"`
	ReaderID          uint           `json:"reader_id"`
	LastReadMessageID uint           `json:"last_read_message_id"`
	ReadAt            int64          `json:"read_at"`
}

// ReactionPayload 是 REACT_MESSAGE / REMOVE_REACTION 事件的內容
// 次數相同的表情之間順序不保證
type ReactionPayload struct {
	MessageID      uint                       `json:"message_id"`
	UserID         uint                       `json:"user_id"`
	React          string                     `json:"react,omitempty"`
	TopReactions   []repository.ReactionCount `json:"top_reactions"`
	TotalReactions int                        `json:"total_reactions"`
}

// TypingPayload 是 MESSAGE_TYPING 事件的內容
type TypingPayload struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
	IsTyping       bool `json:"is_typing"`
}

// Send 持久化一條新消息並扇出
// 持久化失敗時整個呼叫中止，不做任何廣播；
// 扇出失敗只降級即時投遞，消息仍可從歷史讀取
func (d *DeliveryEngine) Send(conversationID, senderID uint, content, msgType string, parentID *uint) (*models.Message, error) {
	snapshot, err := d.memberSnapshot(conversationID)
	if err != nil {
		return nil, err
	}
	if senderID != 0 && !containsID(snapshot.MemberIDs, senderID) {
		return nil, ErrNotMember
	}

	if msgType == "" {
		msgType = string(models.MessageText)
	}

	// 解析接收者並標記當下的在線狀態
	type recipient struct {
		id     uint
		online bool
	}
	var recipients []recipient
	for _, id := range snapshot.MemberIDs {
		if id == senderID {
			continue
		}
		online, err := d.presence.IsOnline(id)
		if err != nil {
			// 狀態存儲不可達：按離線處理，只影響初始狀態與直投
			online = false
		}
		recipients = append(recipients, recipient{id: id, online: online})
	}

	message := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           models.MessageType(msgType),
		ParentID:       parentID,
	}
	statuses := make([]models.MessageStatus, 0, len(recipients))
	for _, r := range recipients {
		status := models.StatusSent
		if r.online {
			status = models.StatusDelivered
		}
		statuses = append(statuses, models.MessageStatus{
			ReceiverID: r.id,
			Status:     status,
		})
	}

	// 唯一的事務邊界：消息與狀態行同生共死
	if err := d.messages.CreateWithStatuses(message, statuses); err != nil {
		return nil, err
	}

	payload := MessagePayload{
		Message:       *message,
		Statuses:      statuses,
		ParentContent: d.parentPreview(parentID, nil),
	}
	frame, err := encodePush(EventNewMessage, payload, 0, "")
	if err != nil {
		return message, nil
	}
	if err := d.store.Publish(storage.ConvSubject(conversationID), frame); err != nil {
		log.Printf("NEW_MESSAGE broadcast failed for conversation %d: %v", conversationID, err)
	}

	// 在線但尚未加入通道的接收者走私人通道直投
	for _, r := range recipients {
		if !r.online || d.rooms.IsJoined(conversationID, r.id) {
			continue
		}
		viewerStatus := statusOf(statuses, r.id)
		direct := MessagePayload{
			Message:       *message,
			Statuses:      statuses,
			ParentContent: d.parentPreview(parentID, viewerStatus),
		}
		directFrame, err := encodePush(EventNewMessage, direct, 0, "")
		if err != nil {
			continue
		}
		if err := d.store.Publish(storage.UserSubject(r.id), directFrame); err != nil {
			log.Printf("direct delivery failed for user %d: %v", r.id, err)
		}
		// 扇出途中伺機清理殘留的連接登記
		d.registry.Reconcile(r.id, d.manager.isLocalConnAlive)
	}

	return message, nil
}

// SendSystemMessage 供協作方與通話中繼插入系統消息
func (d *DeliveryEngine) SendSystemMessage(conversationID uint, content string) error {
	_, err := d.Send(conversationID, 0, content, string(models.MessageSystem), nil)
	return err
}

// MarkRead 把會話中該接收者的所有狀態批次轉為已讀
// 這是「讀到現在」的操作，不限於指定的那一條消息
func (d *DeliveryEngine) MarkRead(conversationID, messageID, receiverID uint) error {
	ok, err := d.conversations.IsMember(conversationID, receiverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	message, err := d.messages.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	now := time.Now()
	if err := d.messages.MarkConversationRead(conversationID, receiverID, now); err != nil {
		return err
	}

	// 最後已讀消息要尊重可見性：for-me 撤回的不算，for-other 的仍算
	lastReadID, err := d.messages.LastVisibleReadID(conversationID, receiverID)
	if err != nil {
		return err
	}

	payload := ReadReceiptPayload{
		Message:           *message,
		ReaderID:          receiverID,
		LastReadMessageID: lastReadID,
		ReadAt:            now.UnixMilli(),
	}
	frame, err := encodePush(EventUpdateReadMessage, payload, 0, "")
	if err != nil {
		return err
	}
	joined := d.rooms.IsJoined(conversationID, receiverID)
	for _, subject := range readReceiptSubjects(conversationID, receiverID, joined) {
		if err := d.store.Publish(subject, frame); err != nil {
			log.Printf("UPDATE_READ_MESSAGE push failed on %s: %v", subject, err)
		}
	}
	return nil
}

// readReceiptSubjects 決定已讀回執要發往哪些 subject
// 讀者已加入通道時，通道廣播已覆蓋他的每一條連接；
// 只有未加入的讀者才需要走私人通道同步已讀位置
func readReceiptSubjects(conversationID, readerID uint, joined bool) []string {
	subjects := []string{storage.ConvSubject(conversationID)}
	if !joined {
		subjects = append(subjects, storage.UserSubject(readerID))
	}
	return subjects
}

// React 新增或原地更新表情回應，之後重算前兩名與總數並廣播
func (d *DeliveryEngine) React(messageID, userID uint, symbol string) error {
	message, err := d.findMessageForMember(messageID, userID)
	if err != nil {
		return err
	}

	reaction := &models.Reaction{
		MessageID: messageID,
		UserID:    userID,
		React:     symbol,
	}
	if err := d.messages.UpsertReaction(reaction); err != nil {
		return err
	}
	return d.broadcastReactions(message, EventReactMessage, userID, symbol)
}

// RemoveReaction 移除表情回應並廣播更新後的統計
func (d *DeliveryEngine) RemoveReaction(messageID, userID uint) error {
	message, err := d.findMessageForMember(messageID, userID)
	if err != nil {
		return err
	}
	if err := d.messages.DeleteReaction(messageID, userID); err != nil {
		return err
	}
	return d.broadcastReactions(message, EventRemoveReaction, userID, "")
}

// Typing 向通道廣播輸入狀態，排除發送者本人
// 純瞬時事件：不持久化，不產生狀態行
func (d *DeliveryEngine) Typing(conversationID, userID uint, isTyping bool) error {
	ok, err := d.conversations.IsMember(conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	payload := TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	}
	frame, err := encodePush(EventMessageTyping, payload, userID, "")
	if err != nil {
		return err
	}
	return d.store.Publish(storage.ConvSubject(conversationID), frame)
}

// Revoke 撤回消息：for-me 只對撤回者隱藏，for-other 對所有人隱藏
// 單向操作，不可恢復
func (d *DeliveryEngine) Revoke(messageID, userID uint, revokeType models.RevokeType) error {
	message, err := d.messages.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	switch revokeType {
	case models.RevokeForMe:
		return d.messages.RevokeForMe(messageID, userID)
	case models.RevokeForOther:
		// 只有發送者能對所有人撤回
		if message.SenderID != userID {
			return ErrNotMember
		}
		return d.messages.RevokeForOther(messageID)
	default:
		return ErrNotFound
	}
}

// MessageView 是按查看者視角整理過的歷史消息
type MessageView struct {
	Message models.Message `json:"message"`
	IsRead  bool           `json:"is_read"`
	Hidden  bool           `json:"hidden"`
}

// History 回傳會話歷史，內容按查看者的可見性規則處理
// 這也是即時投遞降級後接收者補齊消息的讀取路徑
func (d *DeliveryEngine) History(conversationID, viewerID uint, limit int) ([]MessageView, error) {
	ok, err := d.conversations.IsMember(conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	rows, err := d.messages.ListByConversation(conversationID, viewerID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]MessageView, 0, len(rows))
	for _, row := range rows {
		hidden := hiddenForViewer(d.revokedForOther(row.Message.ID), row.Status)
		view := MessageView{
			Message: row.Message,
			IsRead:  row.Status != nil && row.Status.Status == models.StatusRead,
			Hidden:  hidden,
		}
		if hidden {
			view.Message.Content = HiddenContent
		}
		views = append(views, view)
	}
	return views, nil
}

// memberSnapshot 解析會話成員，雙人會話經過共享快取（惰性填充）
func (d *DeliveryEngine) memberSnapshot(conversationID uint) (*convSnapshot, error) {
	key := strconv.FormatUint(uint64(conversationID), 10)
	if entry, err := d.store.ConvCache.Get(key); err == nil {
		var snapshot convSnapshot
		if json.Unmarshal(entry.Value(), &snapshot) == nil {
			return &snapshot, nil
		}
	} else if !errors.Is(err, nats.ErrKeyNotFound) {
		log.Printf("conversation cache read failed for %d: %v", conversationID, err)
	}

	conversation, err := d.conversations.FindByID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	memberIDs, err := d.conversations.MemberIDs(conversationID)
	if err != nil {
		return nil, err
	}
	snapshot := &convSnapshot{MemberIDs: memberIDs, IsGroup: conversation.IsGroup()}

	if !snapshot.IsGroup {
		if data, err := json.Marshal(snapshot); err == nil {
			d.store.ConvCache.Put(key, data)
		}
	}
	return snapshot, nil
}

// findMessageForMember 載入消息並確認操作者是所在會話的成員
func (d *DeliveryEngine) findMessageForMember(messageID, userID uint) (*models.Message, error) {
	message, err := d.messages.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ok, err := d.conversations.IsMember(message.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return message, nil
}

func (d *DeliveryEngine) broadcastReactions(message *models.Message, event string, userID uint, symbol string) error {
	counts, err := d.messages.ReactionCounts(message.ID)
	if err != nil {
		return err
	}

	total := 0
	for _, c := range counts {
		total += c.Count
	}
	payload := ReactionPayload{
		MessageID:      message.ID,
		UserID:         userID,
		React:          symbol,
		TopReactions:   topReactions(counts, 2),
		TotalReactions: total,
	}
	frame, err := encodePush(event, payload, 0, "")
	if err != nil {
		return err
	}
	return d.store.Publish(storage.ConvSubject(message.ConversationID), frame)
}

// parentPreview 取得父消息的預覽內容，按查看者套用撤回規則
func (d *DeliveryEngine) parentPreview(parentID *uint, viewerStatus *models.MessageStatus) string {
	if parentID == nil {
		return ""
	}
	parent, err := d.messages.FindByID(*parentID)
	if err != nil {
		return ""
	}
	var parentViewerStatus *models.MessageStatus
	if viewerStatus != nil {
		if st, err := d.messages.StatusFor(*parentID, viewerStatus.ReceiverID); err == nil {
			parentViewerStatus = st
		}
	}
	if hiddenForViewer(d.revokedForOther(*parentID), parentViewerStatus) {
		return HiddenContent
	}
	return parent.Content
}

// revokedForOther 查詢消息是否被對所有人撤回
func (d *DeliveryEngine) revokedForOther(messageID uint) bool {
	statuses, err := d.messages.StatusesFor(messageID)
	if err != nil {
		return false
	}
	for _, s := range statuses {
		if s.IsRevoked && s.RevokeType == models.RevokeForOther {
			return true
		}
	}
	return false
}

// hiddenForViewer 判斷消息內容是否對查看者隱藏
// for-other 對所有人生效；for-me 只對撤回者本人生效
func hiddenForViewer(revokedForOther bool, viewerStatus *models.MessageStatus) bool {
	if revokedForOther {
		return true
	}
	return viewerStatus != nil && viewerStatus.RevokedForMe()
}

// topReactions 取出現次數最多的前 n 個表情
// 輸入已按次數降冪，次數相同時順序不定
func topReactions(counts []repository.ReactionCount, n int) []repository.ReactionCount {
	if len(counts) <= n {
		return counts
	}
	return counts[:n]
}

func statusOf(statuses []models.MessageStatus, receiverID uint) *models.MessageStatus {
	for i := range statuses {
		if statuses[i].ReceiverID == receiverID {
			return &statuses[i]
		}
	}
	return nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
