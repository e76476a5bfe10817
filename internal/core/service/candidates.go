package service

import "github.com/Wyydra/ya-call/internal/core/domain"

// candidateBuffer holds remote ICE candidates until the remote description
// is applied. Afterwards candidates pass straight through.
type candidateBuffer struct {
	pending []domain.ICECandidate
	ready   bool
}

func (b *candidateBuffer) add(c domain.ICECandidate, apply func(domain.ICECandidate) error) error {
	if !b.ready {
		b.pending = append(b.pending, c)
		return nil
	}
	return apply(c)
}

// flush marks the buffer ready and applies everything queued so far. A failing
// candidate does not stop the rest from being applied.
func (b *candidateBuffer) flush(apply func(domain.ICECandidate) error) (applied int, err error) {
	b.ready = true
	pending := b.pending
	b.pending = nil
	for _, c := range pending {
		if e := apply(c); e != nil {
			if err == nil {
				err = e
			}
			continue
		}
		applied++
	}
	return applied, err
}

func (b *candidateBuffer) len() int {
	return len(b.pending)
}
