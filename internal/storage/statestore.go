package storage

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// 各個 KV bucket 的 TTL 設定
// 到期即視為不存在：在線標記過期等同離線，快取過期等同未快取
const (
	PresenceTTL  = 5 * time.Minute  // 在線標記，由心跳續期
	FriendsTTL   = 12 * time.Hour   // 好友列表快取
	ConvCacheTTL = time.Hour        // 雙人會話成員快照
	CallTTL      = 24 * time.Hour   // 通話開始時間與忙線標記的生命週期上限
)

// StateStore 包裝共享狀態存儲：JetStream KV 提供跨進程的鍵值與 TTL，
// 核心 NATS subject 提供跨進程的廣播通道
type StateStore struct {
	nc *nats.Conn

	Sockets   nats.KeyValue // userID.connID -> 持有進程標識
	Presence  nats.KeyValue // userID -> {is_online, last_online_at}
	Friends   nats.KeyValue // userID -> 已接受的好友 ID 列表
	Rooms     nats.KeyValue // conversationID.userID -> 加入標記
	ConvCache nats.KeyValue // conversationID -> 成員快照（僅雙人會話）
	Calls     nats.KeyValue // callID -> 通話記錄
	Busy      nats.KeyValue // userID -> 進行中的 callID
}

// NewStateStore 連接 NATS 並確保所有 bucket 存在
func NewStateStore(url string) (*StateStore, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %v", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	s := &StateStore{nc: nc}

	buckets := []struct {
		name string
		ttl  time.Duration
		dst  *nats.KeyValue
	}{
		{"chat_sockets", 0, &s.Sockets},
		{"chat_presence", PresenceTTL, &s.Presence},
		{"chat_friends", FriendsTTL, &s.Friends},
		{"chat_rooms", 0, &s.Rooms},
		{"chat_conv_cache", ConvCacheTTL, &s.ConvCache},
		{"chat_calls", CallTTL, &s.Calls},
		{"chat_busy", CallTTL, &s.Busy},
	}

	for _, b := range buckets {
		kv, err := ensureBucket(js, b.name, b.ttl)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure bucket %s: %v", b.name, err)
		}
		*b.dst = kv
	}

	return s, nil
}

func ensureBucket(js nats.JetStreamContext, name string, ttl time.Duration) (nats.KeyValue, error) {
	kv, err := js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket: name,
		TTL:    ttl,
	})
}

// Publish 發布一則廣播到指定 subject，送達所有進程的訂閱者
func (s *StateStore) Publish(subject string, data []byte) error {
	return s.nc.Publish(subject, data)
}

// Subscribe 訂閱一個廣播 subject，回調在 NATS 的接收 goroutine 中執行
func (s *StateStore) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	return s.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (s *StateStore) Close() {
	s.nc.Close()
}

// ConvSubject 回傳會話廣播通道的 subject
func ConvSubject(conversationID uint) string {
	return fmt.Sprintf("chat.conv.%d", conversationID)
}

// UserSubject 回傳用戶私人通道的 subject，送達該用戶的每條連接
func UserSubject(userID uint) string {
	return fmt.Sprintf("chat.user.%d", userID)
}
