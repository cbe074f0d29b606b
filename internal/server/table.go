package server

import "net"

// slot is one reusable entry of the connection table. conn is nil when the
// slot is free.
type slot struct {
	conn net.Conn
	fd   int
}

// table is the fixed-size connection table. It is owned by the accept loop
// and never touched from worker goroutines, so it carries no lock.
type table struct {
	slots    []slot
	occupied int
}

func newTable(capacity int) *table {
	return &table{slots: make([]slot, capacity)}
}

func (t *table) capacity() int {
	return len(t.slots)
}

// insert places conn in the first free slot and returns its index, or -1 if
// the table is full.
func (t *table) insert(conn net.Conn, fd int) int {
	if t.occupied == len(t.slots) {
		return -1
	}
	for i := range t.slots {
		if t.slots[i].conn == nil {
			t.slots[i] = slot{conn: conn, fd: fd}
			t.occupied++
			return i
		}
	}
	return -1
}

// take clears slot i and hands its connection to the caller.
func (t *table) take(i int) (net.Conn, int, bool) {
	if i < 0 || i >= len(t.slots) || t.slots[i].conn == nil {
		return nil, 0, false
	}
	s := t.slots[i]
	t.slots[i] = slot{}
	t.occupied--
	return s.conn, s.fd, true
}

// drain empties the table, returning the connections it held.
func (t *table) drain() []net.Conn {
	var conns []net.Conn
	for i := range t.slots {
		if conn, _, ok := t.take(i); ok {
			conns = append(conns, conn)
		}
	}
	return conns
}
