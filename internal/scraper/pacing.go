package scraper

import (
	"math/rand"
	"sync"
	"time"
)

// DelayClass selects one of the human-pacing delay bands.
type DelayClass int

const (
	DelayQuick DelayClass = iota
	DelayNormal
	DelaySlow
)

// Base bands per class. Jitter widens each draw by up to ±20%.
var delayBands = map[DelayClass][2]time.Duration{
	DelayQuick:  {3000 * time.Millisecond, 4000 * time.Millisecond},
	DelayNormal: {4000 * time.Millisecond, 8000 * time.Millisecond},
	DelaySlow:   {8000 * time.Millisecond, 18000 * time.Millisecond},
}

const jitterFraction = 0.20

// Pacer produces randomized human-like delays. Safe for concurrent use.
type Pacer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ Pacing = (*Pacer)(nil)

// NewPacer creates a Pacer seeded from src, or from the current time
// when src is nil.
func NewPacer(src rand.Source) *Pacer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Pacer{rng: rand.New(src)}
}

// Delay draws a jittered duration from the class band.
func (p *Pacer) Delay(class DelayClass) time.Duration {
	band, ok := delayBands[class]
	if !ok {
		band = delayBands[DelayNormal]
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base := band[0] + time.Duration(p.rng.Int63n(int64(band[1]-band[0])+1))
	jitter := 1 + (p.rng.Float64()*2-1)*jitterFraction
	return time.Duration(float64(base) * jitter)
}

// Stagger returns the start offset for worker slot i. Slot 0 starts
// immediately; later slots get progressively wider random offsets so a
// chunk never fires in lockstep.
func (p *Pacer) Stagger(i int) time.Duration {
	if i <= 0 {
		return 0
	}
	lo := time.Duration(6000+2000*i) * time.Millisecond
	hi := time.Duration(12000+3000*i) * time.Millisecond
	return p.Between(lo, hi)
}

// Between draws a uniform duration in [lo, hi].
func (p *Pacer) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + time.Duration(p.rng.Int63n(int64(hi-lo)+1))
}

// Chance reports true with probability prob.
func (p *Pacer) Chance(prob float64) bool {
	if prob <= 0 {
		return false
	}
	if prob >= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < prob
}

// RandomClass picks a class weighted toward normal pacing
// (1x quick, 3x normal, 2x slow).
func (p *Pacer) RandomClass() DelayClass {
	p.mu.Lock()
	n := p.rng.Intn(6)
	p.mu.Unlock()

	switch {
	case n == 0:
		return DelayQuick
	case n < 4:
		return DelayNormal
	default:
		return DelaySlow
	}
}
