package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"
)

// SocketRegistry 維護跨進程可見的 userID → 連接 ID 映射
// 每個 (用戶, 連接) 一個 key，多進程同時註冊不會互相覆蓋
type SocketRegistry struct {
	kv        nats.KeyValue
	processID string // 本進程標識，Reconcile 只清理自己名下的殘留
}

func NewSocketRegistry(kv nats.KeyValue) *SocketRegistry {
	return &SocketRegistry{
		kv:        kv,
		processID: nuid.Next(),
	}
}

func socketKey(userID uint, connID string) string {
	return fmt.Sprintf("%d.%s", userID, connID)
}

// parseSocketKey 把 registry key 拆回 (userID, connID)
func parseSocketKey(key string) (uint, string, bool) {
	idx := strings.Index(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return 0, "", false
	}
	id, err := strconv.ParseUint(key[:idx], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint(id), key[idx+1:], true
}

// Register 登記一條新連接
func (r *SocketRegistry) Register(userID uint, connID string) error {
	_, err := r.kv.Put(socketKey(userID, connID), []byte(r.processID))
	return err
}

// Unregister 移除一條連接
func (r *SocketRegistry) Unregister(userID uint, connID string) error {
	err := r.kv.Delete(socketKey(userID, connID))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Connections 回傳用戶目前的連接 ID 列表，排序去重
func (r *SocketRegistry) Connections(userID uint) ([]string, error) {
	keys, err := r.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var conns []string
	for _, key := range keys {
		uid, connID, ok := parseSocketKey(key)
		if !ok || uid != userID || seen[connID] {
			continue
		}
		seen[connID] = true
		conns = append(conns, connID)
	}
	sort.Strings(conns)
	return conns, nil
}

// Reconcile 清掉本進程名下已經不存活的連接
// 在扇出過程中伺機執行；其他進程的登記一律不動
func (r *SocketRegistry) Reconcile(userID uint, alive func(connID string) bool) {
	keys, err := r.kv.Keys()
	if err != nil {
		return
	}
	for _, key := range keys {
		uid, connID, ok := parseSocketKey(key)
		if !ok || uid != userID {
			continue
		}
		entry, err := r.kv.Get(key)
		if err != nil {
			continue
		}
		if string(entry.Value()) == r.processID && !alive(connID) {
			r.kv.Delete(key)
		}
	}
}
