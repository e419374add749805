package pool

import "container/heap"

// queueItem is a heap entry for a pending task.
type queueItem struct {
	id       string
	priority int
	seq      uint64
	index    int // position in the heap, -1 once popped or removed
}

// taskHeap orders items by (priority, seq): lower priority values first,
// submission order within a priority.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// priorityQueue is a min-heap of pending task ids with O(log n) removal by
// id. It is not safe for concurrent use; the pool guards it with its mutex.
type priorityQueue struct {
	h     taskHeap
	items map[string]*queueItem
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{items: make(map[string]*queueItem)}
}

func (q *priorityQueue) push(id string, priority int, seq uint64) {
	item := &queueItem{id: id, priority: priority, seq: seq}
	heap.Push(&q.h, item)
	q.items[id] = item
}

func (q *priorityQueue) pop() (string, bool) {
	if q.h.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&q.h).(*queueItem)
	delete(q.items, item.id)
	return item.id, true
}

func (q *priorityQueue) remove(id string) bool {
	item, ok := q.items[id]
	if !ok || item.index < 0 {
		return false
	}
	heap.Remove(&q.h, item.index)
	delete(q.items, id)
	return true
}

func (q *priorityQueue) len() int {
	return q.h.Len()
}
