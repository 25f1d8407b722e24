package wsconn

// writeContext owns the buffer group of the write currently in flight. The
// buffers stay referenced until the stream reports completion.
type writeContext struct {
	bufs         [][]byte
	bytes        int
	transmitting bool
}

// obtain moves up to max buffers from q into the context. It returns false
// when there is nothing to send.
func (w *writeContext) obtain(q *outgoingQueue, max int) bool {
	if w.transmitting {
		panic("wsconn: second write started while one is in flight")
	}
	if q.empty() {
		return false
	}
	w.bufs = q.popReady(max)
	w.bytes = 0
	for _, b := range w.bufs {
		w.bytes += len(b)
	}
	w.transmitting = true
	return true
}

func (w *writeContext) buffers() [][]byte { return w.bufs }

// done releases the in-flight group.
func (w *writeContext) done() {
	w.bufs = nil
	w.bytes = 0
	w.transmitting = false
}
