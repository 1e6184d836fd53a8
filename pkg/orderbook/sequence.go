package orderbook

import "sync/atomic"

// Sequencer hands out strictly increasing ids. It replaces wall-clock ids,
// which collide under burst submission.
type Sequencer struct {
	last atomic.Uint64
}

func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the last id handed out.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}
