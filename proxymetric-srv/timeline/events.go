package timeline

import "iter"

// Events is an immutable snapshot of captured responses. Every analysis
// pass receives one explicitly instead of reading shared state.
type Events struct {
	responses []*Response
}

// NewEvents snapshots the given responses. Nil entries are dropped.
func NewEvents(responses ...*Response) Events {
	out := make([]*Response, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	return Events{responses: out}
}

// Len returns the number of responses in the snapshot.
func (e Events) Len() int { return len(e.responses) }

// At returns the i-th response.
func (e Events) At(i int) *Response { return e.responses[i] }

// Responses returns the responses in capture order. The slice is a copy.
func (e Events) Responses() []*Response {
	return append([]*Response(nil), e.responses...)
}

// All iterates over the responses in capture order.
func (e Events) All() iter.Seq2[int, *Response] {
	return func(yield func(int, *Response) bool) {
		for i, r := range e.responses {
			if !yield(i, r) {
				return
			}
		}
	}
}
