package report

import "sluice/sink"

// History buffers cycle summaries between flushes. It is owned by the
// caller and threaded through each Report call.
type History struct {
	buf        []sink.Summary
	flushEvery int
}

// NewHistory returns a History that flushes every flushEvery summaries.
// Values below 1 mean flush on every cycle.
func NewHistory(flushEvery int) *History {
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &History{buf: make([]sink.Summary, 0, flushEvery), flushEvery: flushEvery}
}

func (h *History) add(s sink.Summary) { h.buf = append(h.buf, s) }

func (h *History) due() bool { return len(h.buf) >= h.flushEvery }

// take hands the buffered batch to the caller and empties the buffer.
func (h *History) take() []sink.Summary {
	batch := h.buf
	h.buf = make([]sink.Summary, 0, h.flushEvery)
	return batch
}

func (h *History) Len() int { return len(h.buf) }

// Pending returns a copy of the buffered summaries.
func (h *History) Pending() []sink.Summary { return append([]sink.Summary(nil), h.buf...) }
