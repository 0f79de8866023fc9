package queue

import "sync"

// KeyedQueue 按键串行的执行队列
// 同一个键上的任务严格排队，不同键并行互不影响
// 任务失败不会污染同键的后续任务（每个任务独立执行）
type KeyedQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{tails: make(map[string]chan struct{})}
}

// Do 在指定键上排队执行fn，阻塞到fn完成
func (q *KeyedQueue) Do(key string, fn func()) {
	q.mu.Lock()
	prev := q.tails[key]
	done := make(chan struct{})
	q.tails[key] = done
	q.mu.Unlock()

	if prev != nil {
		<-prev
	}

	defer func() {
		close(done)
		q.mu.Lock()
		// 只有自己仍是队尾时才清掉表项
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}()

	fn()
}

// Pending 当前有排队任务的键数量，仅用于调试输出
func (q *KeyedQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
