package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
	"github.com/tributolabs/iptu-scraper/internal/telemetry"
)

// Config controls the session pool and the shared Chrome allocator.
type Config struct {
	// Size is the number of slots (default 1).
	Size int
	// Headless runs Chrome without a display.
	Headless bool
	// WindowWidth/Height set the browser window size (default 1920x1080).
	WindowWidth  int
	WindowHeight int
}

// factory builds a session for a slot; swapped out in tests.
type factory func(allocator context.Context, slot int, fp Fingerprint) (*chromeSession, error)

// Pool lazily creates one long-lived browser session per slot and
// recreates a slot after Discard. Safe for concurrent use.
type Pool struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
	build       factory

	mu    sync.Mutex
	slots []*chromeSession

	shutdownOnce sync.Once
}

var _ scraper.SessionPool = (*Pool)(nil)

// NewPool starts the shared Chrome allocator. Sessions themselves are
// created on first Borrow per slot.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = 1920
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = 1080
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	allocator, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Pool{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocator,
		allocCancel: cancel,
		build:       newChromeSession,
		slots:       make([]*chromeSession, cfg.Size),
	}
}

// Size reports the number of slots.
func (p *Pool) Size() int {
	return p.cfg.Size
}

// Borrow returns the session for a slot, creating it if the slot is
// empty or was discarded.
func (p *Pool) Borrow(ctx context.Context, slot int) (scraper.Session, error) {
	if slot < 0 || slot >= p.cfg.Size {
		return nil, fmt.Errorf("slot %d out of range [0,%d)", slot, p.cfg.Size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sess := p.slots[slot]; sess != nil {
		return sess, nil
	}

	fp := FingerprintFor(slot)
	p.logger.Info("creating browser session",
		zap.Int("slot", slot),
		zap.String("user_agent", fp.UserAgent))

	sess, err := p.build(p.allocator, slot, fp)
	if err != nil {
		return nil, fmt.Errorf("create session slot %d: %w", slot, err)
	}
	p.slots[slot] = sess
	telemetry.IncActiveSessions()
	return sess, nil
}

// Warmup creates every empty slot up front so a run fails fast when no
// browser can start. Slots discarded later are still rebuilt lazily.
func (p *Pool) Warmup(ctx context.Context) error {
	for slot := 0; slot < p.cfg.Size; slot++ {
		if _, err := p.Borrow(ctx, slot); err != nil {
			return fmt.Errorf("warm up pool: %w", err)
		}
	}
	return nil
}

// Discard tears down a slot so the next Borrow rebuilds it with the
// same fingerprint.
func (p *Pool) Discard(slot int) {
	if slot < 0 || slot >= p.cfg.Size {
		return
	}

	p.mu.Lock()
	sess := p.slots[slot]
	p.slots[slot] = nil
	p.mu.Unlock()

	if sess != nil {
		p.logger.Warn("discarding browser session", zap.Int("slot", slot))
		sess.close()
		telemetry.DecActiveSessions()
	}
}

// Shutdown closes every session and the allocator. Safe to call twice.
func (p *Pool) Shutdown(context.Context) {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		slots := p.slots
		p.slots = make([]*chromeSession, p.cfg.Size)
		p.mu.Unlock()

		for _, sess := range slots {
			if sess != nil {
				sess.close()
				telemetry.DecActiveSessions()
			}
		}
		p.allocCancel()
		p.logger.Info("browser pool shut down")
	})
}
