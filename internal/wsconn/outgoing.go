package wsconn

// outgoingQueue holds buffers waiting to be written, in transmission order,
// plus the "close when drained" request. It is only touched on the owning
// connection's strand.
type outgoingQueue struct {
	bufs          [][]byte
	closeWhenDone bool
}

// append adds a buffer group to the tail. Appending after a close was
// requested is a programming error.
func (q *outgoingQueue) append(bufs [][]byte) {
	if q.closeWhenDone {
		panic("wsconn: append to outgoing queue after close was requested")
	}
	if len(bufs) == 0 {
		return
	}
	if len(q.bufs) == 0 {
		// Clip so later appends never write into the caller's spare capacity.
		q.bufs = bufs[:len(bufs):len(bufs)]
		return
	}
	q.bufs = append(q.bufs, bufs...)
}

// popReady removes up to max buffers from the head. max <= 0 takes everything.
func (q *outgoingQueue) popReady(max int) [][]byte {
	if max <= 0 || max >= len(q.bufs) {
		bufs := q.bufs
		q.bufs = nil
		return bufs
	}
	bufs := q.bufs[:max:max]
	q.bufs = q.bufs[max:]
	return bufs
}

func (q *outgoingQueue) empty() bool { return len(q.bufs) == 0 }

func (q *outgoingQueue) len() int { return len(q.bufs) }

func (q *outgoingQueue) setCloseWhenDone() { q.closeWhenDone = true }

// discard drops pending buffers without touching the close flag.
func (q *outgoingQueue) discard() { q.bufs = nil }
