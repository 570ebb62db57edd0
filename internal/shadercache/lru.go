package shadercache

// entry is a cached value threaded on its shard's recency list. Entries
// carry their own links so a hit touches no allocation.
type entry[K comparable, V any] struct {
	key   K
	value V
	prev  *entry[K, V]
	next  *entry[K, V]
}

// recency is an intrusive doubly-linked list, most recently used first.
// It is not safe for concurrent use; the owning shard holds the lock.
type recency[K comparable, V any] struct {
	head *entry[K, V]
	tail *entry[K, V]
	n    int
}

func (l *recency[K, V]) len() int { return l.n }

func (l *recency[K, V]) pushFront(e *entry[K, V]) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
	l.n++
}

func (l *recency[K, V]) touch(e *entry[K, V]) {
	if e == l.head {
		return
	}
	l.unlink(e)
	l.pushFront(e)
}

// popBack removes the least recently used entry.
func (l *recency[K, V]) popBack() (*entry[K, V], bool) {
	e := l.tail
	if e == nil {
		return nil, false
	}
	l.unlink(e)
	return e, true
}

func (l *recency[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.n--
}

func (l *recency[K, V]) clear() {
	l.head, l.tail, l.n = nil, nil, 0
}
