package settlement

import "time"

// entry is a scheduled resolution. Ties on dueAt break by insertion order so
// same-instant submissions settle in the order they arrived.
type entry struct {
	hash  string
	dueAt time.Time
	ord   uint64
}

// dueQueue is a min-heap ordered by due time. The coordinator goroutine owns
// it through the processor mutex.
type dueQueue []*entry

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].dueAt.Equal(q[j].dueAt) {
		return q[i].ord < q[j].ord
	}
	return q[i].dueAt.Before(q[j].dueAt)
}

func (q dueQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *dueQueue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
