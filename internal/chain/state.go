package chain

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"deltaflow/internal/consts"
	"deltaflow/internal/model"

	lru "github.com/hashicorp/golang-lru"
)

// Record 一条信号链的状态
// 槽位按 seq 填充（last-writer-wins），进度标志只进不退
type Record struct {
	CreatedAt time.Time
	LastTouch time.Time

	CancelMsg *model.SignalMessage
	EnterMsg  *model.SignalMessage
	BatchMsg  *model.SignalMessage

	DidCancel    bool
	DidEnterPrep bool
	DidEnter     bool
	DidBatch     bool
}

// LastEntry 最近一次开仓备忘，只用于TP数量启发和乘数学习
type LastEntry struct {
	Lots    int
	Side    string
	LotMult float64
	Ts      time.Time
}

// State 进程内共享状态：链表、幂等指纹、开仓备忘
// 不同队列键上的并发分发会同时触达，这里统一加锁
type State struct {
	mu        sync.Mutex
	chains    map[string]*Record
	seen      *lru.Cache
	lastEntry map[string]LastEntry
	nowFn     func() time.Time
}

func NewState() *State {
	seen, _ := lru.New(consts.SeenCap)
	return &State{
		chains:    make(map[string]*Record),
		seen:      seen,
		lastEntry: make(map[string]LastEntry),
		nowFn:     time.Now,
	}
}

// SetNowFunc 测试用
func (s *State) SetNowFunc(f func() time.Time) { s.nowFn = f }

// SigKey 信号链键：sig_id 和大写品种的摘要
func SigKey(sigID, psym string) string {
	h := sha1.Sum([]byte(sigID + "|" + strings.ToUpper(psym)))
	return hex.EncodeToString(h[:8])
}

// Fingerprint 幂等指纹：sig_id | 品种 | seq | 订单摘要
func Fingerprint(msg *model.SignalMessage) string {
	seq, _ := msg.SeqVal()
	ordersHash := ""
	if of := msg.OrdersFingerprint(); of != "" {
		oh := sha256.Sum256([]byte(of))
		ordersHash = hex.EncodeToString(oh[:8])
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s",
		msg.EffSigID(), msg.EffSymbol(), seq, ordersHash)))
	return hex.EncodeToString(h[:16])
}

// AdmitFingerprint 指纹60秒内重复返回false，否则登记并放行
func (s *State) AdmitFingerprint(fp string) bool {
	now := s.nowFn()
	if v, ok := s.seen.Get(fp); ok {
		if ts, ok := v.(time.Time); ok && now.Sub(ts) < consts.SeenTTL {
			return false
		}
	}
	s.seen.Add(fp, now)
	return true
}

// ForgetFingerprint 执行失败时撤销登记，让上游重投可以重试
func (s *State) ForgetFingerprint(fp string) {
	s.seen.Remove(fp)
}

// Upsert 取出或创建链记录并填充本次消息的槽位
// 顺带清理其他过期链；当前键的过期交给窗口检查报错，不在这里静默重建
func (s *State) Upsert(msg *model.SignalMessage) (*Record, string) {
	key := SigKey(msg.EffSigID(), msg.EffSymbol())
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, rec := range s.chains {
		if k != key && now.Sub(rec.LastTouch) > consts.ChainTTL {
			delete(s.chains, k)
		}
	}

	rec, ok := s.chains[key]
	if !ok {
		rec = &Record{CreatedAt: now}
		s.chains[key] = rec
	}
	rec.LastTouch = now

	if seq, ok := msg.SeqVal(); ok {
		switch seq {
		case 0:
			rec.CancelMsg = msg
		case 1:
			rec.EnterMsg = msg
		case 2:
			rec.BatchMsg = msg
		}
	}
	return rec, key
}

// WithRecord 在状态锁内读写链记录
func (s *State) WithRecord(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// RememberEntry 记录最近一次开仓
func (s *State) RememberEntry(psym string, le LastEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEntry[strings.ToUpper(psym)] = le
}

// RecentEntry 未过期的开仓备忘
func (s *State) RecentEntry(psym string) (LastEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	le, ok := s.lastEntry[strings.ToUpper(psym)]
	if !ok || s.nowFn().Sub(le.Ts) > consts.LastEntryTTL {
		return LastEntry{}, false
	}
	return le, true
}

// DebugChains 链状态快照，调试接口用
func (s *State) DebugChains() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.chains))
	for k, rec := range s.chains {
		out[k] = map[string]interface{}{
			"created_at":     rec.CreatedAt.Format(consts.TimeLayoutMs),
			"last_touch":     rec.LastTouch.Format(consts.TimeLayoutMs),
			"have_cancel":    rec.CancelMsg != nil,
			"have_enter":     rec.EnterMsg != nil,
			"have_batch":     rec.BatchMsg != nil,
			"did_cancel":     rec.DidCancel,
			"did_enter_prep": rec.DidEnterPrep,
			"did_enter":      rec.DidEnter,
			"did_batch":      rec.DidBatch,
		}
	}
	return out
}

// DebugSeen 幂等缓存快照
func (s *State) DebugSeen() map[string]interface{} {
	out := make(map[string]interface{})
	for _, k := range s.seen.Keys() {
		if v, ok := s.seen.Peek(k); ok {
			if ts, ok2 := v.(time.Time); ok2 {
				out[fmt.Sprint(k)] = ts.Format(consts.TimeLayoutMs)
			}
		}
	}
	return out
}
