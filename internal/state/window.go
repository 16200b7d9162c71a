package state

import "github.com/ashureev/tbchat-client/internal/domain"

// DefaultMessageCap bounds each channel's record list.
const DefaultMessageCap = 1000

// window is a fixed-size ring of records. When full, pushing overwrites the
// oldest record. It is not safe for concurrent use; the Reconciler's lock
// guards it.
type window struct {
	buf  []domain.Record
	size int
	head int // write position
	tail int // oldest record
	full bool
}

func newWindow(size int) *window {
	if size <= 0 {
		size = DefaultMessageCap
	}
	return &window{
		buf:  make([]domain.Record, size),
		size: size,
	}
}

func (w *window) push(r domain.Record) {
	if w.full {
		w.tail = (w.tail + 1) % w.size
	}
	w.buf[w.head] = r
	w.head = (w.head + 1) % w.size
	if w.head == w.tail {
		w.full = true
	}
}

// replace resets the window to the last size entries of rs.
func (w *window) replace(rs []domain.Record) {
	w.reset()
	if len(rs) > w.size {
		rs = rs[len(rs)-w.size:]
	}
	for _, r := range rs {
		w.push(r)
	}
}

func (w *window) len() int {
	switch {
	case w.full:
		return w.size
	case w.head >= w.tail:
		return w.head - w.tail
	default:
		return (w.size - w.tail) + w.head
	}
}

// records returns the contents oldest first.
func (w *window) records() []domain.Record {
	n := w.len()
	out := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, w.buf[(w.tail+i)%w.size])
	}
	return out
}

func (w *window) reset() {
	clear(w.buf)
	w.head = 0
	w.tail = 0
	w.full = false
}
