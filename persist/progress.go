package persist

import "sync"

// Progress allocation across the three save steps.
const (
	progressAfterDocument = 30
	progressAfterAssets   = 90
)

// progressTracker funnels percentage updates to the caller's callback,
// never letting the reported value move backwards.
type progressTracker struct {
	fn func(percent int)

	mu      sync.Mutex
	current int
}

func newProgressTracker(fn func(int)) *progressTracker {
	return &progressTracker{fn: fn}
}

func (p *progressTracker) set(percent int) {
	p.mu.Lock()
	if percent < p.current {
		percent = p.current
	}
	p.current = percent
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(percent)
	}
}

// stepProgress maps completed bytes within one save step onto that step's
// slice of the overall percentage.
type stepProgress struct {
	tracker  *progressTracker
	from, to int
	total    int64

	mu        sync.Mutex
	doneSoFar int64
}

func newStepProgress(tracker *progressTracker, from, to int, total int64) *stepProgress {
	return &stepProgress{tracker: tracker, from: from, to: to, total: total}
}

// add records n completed bytes and advances the overall percentage
// proportionally.
func (s *stepProgress) add(n int64) {
	if s.total <= 0 {
		return
	}
	s.mu.Lock()
	s.doneSoFar += n
	done := s.doneSoFar
	s.mu.Unlock()
	if done > s.total {
		done = s.total
	}
	span := int64(s.to - s.from)
	s.tracker.set(s.from + int(span*done/s.total))
}
