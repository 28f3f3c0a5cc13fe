package streamio

import (
	"github.com/gammazero/deque"
)

// chunkQueue 按到达顺序缓存数据块, bytes始终等于队列内数据块的长度之和.
// 非并发安全, 由StreamReader的锁保护.
type chunkQueue struct {
	q     deque.Deque
	bytes int
}

func (q *chunkQueue) push(chunk []byte) {
	q.q.PushBack(chunk)
	q.bytes += len(chunk)
}

func (q *chunkQueue) pop() []byte {
	chunk := q.q.PopFront().([]byte)
	q.bytes -= len(chunk)
	return chunk
}

func (q *chunkQueue) Len() int {
	return q.q.Len()
}

func (q *chunkQueue) reset() {
	q.q.Clear()
	q.bytes = 0
}
