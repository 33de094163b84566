package publisher

// elementQueue is a FIFO of undelivered elements.
// Popped slots are zeroed so released elements can be collected.
type elementQueue[T any] struct {
	items []T
	head  int
}

func (q *elementQueue[T]) push(element T) {
	q.items = append(q.items, element)
}

func (q *elementQueue[T]) pop() (T, bool) {
	var zero T
	if q.len() == 0 {
		return zero, false
	}

	element := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}

	return element, true
}

func (q *elementQueue[T]) len() int {
	return len(q.items) - q.head
}

// clear releases every buffered element and reports how many were dropped.
func (q *elementQueue[T]) clear() int {
	dropped := q.len()
	q.items = nil
	q.head = 0

	return dropped
}
