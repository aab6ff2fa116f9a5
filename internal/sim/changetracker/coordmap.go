package changetracker

// coordMap is a hash map keyed by cell coordinates that also keeps the keys
// in a doubly linked list, so iteration follows insertion order and recently
// touched keys can be moved to the tail.
type coordMap[V any] struct {
	index      map[Coord]*coordNode[V]
	head, tail *coordNode[V]
}

type coordNode[V any] struct {
	key        Coord
	value      V
	prev, next *coordNode[V]
}

func newCoordMap[V any]() *coordMap[V] {
	return &coordMap[V]{index: map[Coord]*coordNode[V]{}}
}

func (m *coordMap[V]) Len() int { return len(m.index) }

func (m *coordMap[V]) Get(c Coord) (V, bool) {
	n, ok := m.index[c]
	if !ok {
		var zero V
		return zero, false
	}
	return n.value, true
}

// GetMoveToTail looks up c and, when present, makes it the most recent key.
func (m *coordMap[V]) GetMoveToTail(c Coord) (V, bool) {
	n, ok := m.index[c]
	if !ok {
		var zero V
		return zero, false
	}
	m.unlink(n)
	m.linkTail(n)
	return n.value, true
}

// Put stores v under c at the tail of the iteration order.
func (m *coordMap[V]) Put(c Coord, v V) {
	if n, ok := m.index[c]; ok {
		n.value = v
		m.unlink(n)
		m.linkTail(n)
		return
	}
	n := &coordNode[V]{key: c, value: v}
	m.index[c] = n
	m.linkTail(n)
}

func (m *coordMap[V]) Remove(c Coord) bool {
	n, ok := m.index[c]
	if !ok {
		return false
	}
	delete(m.index, c)
	m.unlink(n)
	return true
}

// Each visits keys head to tail until fn returns false. fn may remove the key
// it is visiting.
func (m *coordMap[V]) Each(fn func(c Coord, v V) bool) {
	for n := m.head; n != nil; {
		next := n.next
		if !fn(n.key, n.value) {
			return
		}
		n = next
	}
}

func (m *coordMap[V]) Clear() {
	clear(m.index)
	m.head = nil
	m.tail = nil
}

func (m *coordMap[V]) linkTail(n *coordNode[V]) {
	n.prev = m.tail
	n.next = nil
	if m.tail != nil {
		m.tail.next = n
	} else {
		m.head = n
	}
	m.tail = n
}

func (m *coordMap[V]) unlink(n *coordNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if m.head == n {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if m.tail == n {
		m.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}
