package usecase

import "strings"

// Sentinel is the literal the model replies with when no further questions are needed.
const Sentinel = "DONE"

// StreamBuffer withholds streamed fragments until it can tell whether the reply is the sentinel.
// Output is the same whatever the fragmentation of the reply.
type StreamBuffer struct {
	sentinel string
	buf      strings.Builder
	decided  bool
	isDone   bool
}

func NewStreamBuffer(sentinel string) *StreamBuffer {
	return &StreamBuffer{sentinel: sentinel}
}

// Feed consumes one fragment and returns the text that may be shown to the user now ("" if none).
// After the sentinel has been detected further fragments are ignored.
func (b *StreamBuffer) Feed(fragment string) string {
	if fragment == "" || b.isDone {
		return ""
	}
	b.buf.WriteString(fragment)
	if b.decided {
		return fragment
	}
	if b.buf.Len() < len(b.sentinel) {
		return ""
	}
	b.decided = true
	if strings.HasPrefix(b.buf.String(), b.sentinel) {
		b.isDone = true
		return ""
	}
	// catch up on everything held back so far
	return b.buf.String()
}

// Flush is called when the stream ends. A reply shorter than the sentinel is content.
func (b *StreamBuffer) Flush() string {
	if b.decided {
		return ""
	}
	b.decided = true
	return b.buf.String()
}

func (b *StreamBuffer) Decided() bool  { return b.decided }
func (b *StreamBuffer) Sentinel() bool { return b.isDone }

// Text is the full reply accumulated so far.
func (b *StreamBuffer) Text() string { return b.buf.String() }
