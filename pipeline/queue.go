/* SPDX-License-Identifier: MIT
 *
 * Priority queue for the Pipeline's forward/delivery stages (spec.md
 * §4.7): FIFO within a priority level, higher priority dequeued first.
 * Bounded so a slow egress worker produces Backpressure rather than
 * unbounded memory growth, the way the teacher bounds its own per-peer
 * outbound channel (device/queueconstants_default.go's QueueOutboundSize)
 * instead of letting a stalled peer grow its queue forever.
 */
package pipeline

import (
	"sync"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type item struct {
	packet          *types.Packet
	excludeInbound  types.NodeId // for forward-queue broadcasts: don't re-send to where it came from
}

// priorityQueue holds one FIFO lane per priority level 0..10 and always
// dequeues from the highest non-empty lane. Emergency traffic (priority
// 10) therefore never waits behind lower-priority backlog.
type priorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	lanes    [11][]item
	size     int
	capacity int
	closed   bool
}

func newPriorityQueue(capacity int) *priorityQueue {
	q := &priorityQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// push enqueues it, returning ErrBackpressure if the queue is at capacity.
func (q *priorityQueue) push(it item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return types.ErrBackpressure
	}
	if q.size >= q.capacity {
		return types.ErrBackpressure
	}
	p := int(it.packet.Priority)
	if p < 0 {
		p = 0
	}
	if p > 10 {
		p = 10
	}
	q.lanes[p] = append(q.lanes[p], it)
	q.size++
	q.notEmpty.Signal()
	return nil
}

// pop blocks until an item is available or the queue is closed.
func (q *priorityQueue) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for p := 10; p >= 0; p-- {
			if len(q.lanes[p]) > 0 {
				it := q.lanes[p][0]
				q.lanes[p] = q.lanes[p][1:]
				q.size--
				return it, true
			}
		}
		if q.closed {
			return item{}, false
		}
		q.notEmpty.Wait()
	}
}

func (q *priorityQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

func (q *priorityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
