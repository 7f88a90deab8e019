package driver

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// chromeSession is one live browser tab bound to a pool slot.
type chromeSession struct {
	slot   int
	fp     Fingerprint
	ctx    context.Context
	cancel context.CancelFunc
}

var _ scraper.Session = (*chromeSession)(nil)

func (s *chromeSession) ID() int                  { return s.slot }
func (s *chromeSession) UserAgent() string        { return s.fp.UserAgent }
func (s *chromeSession) Context() context.Context { return s.ctx }

func (s *chromeSession) close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// newChromeSession opens a tab off the shared allocator and applies the
// slot's fingerprint plus the stealth masking before any navigation.
func newChromeSession(allocator context.Context, slot int, fp Fingerprint) (*chromeSession, error) {
	ctx, cancel := chromedp.NewContext(allocator)

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(fp.UserAgent).
			WithAcceptLanguage(fp.AcceptLanguage).
			Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		return nil
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("prepare session slot %d: %w", slot, err)
	}

	return &chromeSession{slot: slot, fp: fp, ctx: ctx, cancel: cancel}, nil
}
