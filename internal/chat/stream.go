package chat

import "cozeplug/internal/events"

// SliceStream replays a fixed list of events.
type SliceStream struct {
	logID  string
	items  []events.Event
	pos    int
	err    error
	closed bool
}

// NewSliceStream returns a stream over items.
func NewSliceStream(logID string, items ...events.Event) *SliceStream {
	return &SliceStream{logID: logID, items: items, pos: -1}
}

// WithErr makes the stream fail with err once its items are exhausted.
func (s *SliceStream) WithErr(err error) *SliceStream {
	s.err = err
	return s
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() events.Event {
	if s.pos < 0 || s.pos >= len(s.items) {
		return events.Event{}
	}
	return s.items[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos+1 >= len(s.items) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

func (s *SliceStream) LogID() string { return s.logID }

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }
