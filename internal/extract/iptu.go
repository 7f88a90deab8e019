// Package extract drives the São Paulo IPTU lookup form and reads the
// result page for one contributor number.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// Config controls the site interaction.
type Config struct {
	// TargetURL is the lookup form address.
	TargetURL string
	// PageTimeout bounds the whole interaction for one job.
	PageTimeout time.Duration
	// ResultWait is how long to let the result page settle after submit.
	ResultWait time.Duration
}

// Extractor implements scraper.Extractor against the IPTU form.
type Extractor struct {
	cfg    Config
	pacer  *scraper.Pacer
	logger *zap.Logger
}

var _ scraper.Extractor = (*Extractor)(nil)

// New builds an Extractor.
func New(cfg Config, pacer *scraper.Pacer, logger *zap.Logger) *Extractor {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = 12 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, pacer: pacer, logger: logger}
}

// Extract navigates the lookup form, types the contributor number with
// human-like pacing, submits, and reads the result fields. The raw page
// HTML is returned even on failure so callers can archive it.
func (e *Extractor) Extract(ctx context.Context, sess scraper.Session, job scraper.Job) (scraper.Extraction, error) {
	parts, err := splitContributorNumber(job.ContributorNumber)
	if err != nil {
		return scraper.Extraction{}, err
	}

	log := e.logger.With(
		zap.String("contributor", job.ContributorNumber),
		zap.Int("session", sess.ID()))

	tctx, cancel := context.WithTimeout(sess.Context(), e.cfg.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tctx,
		chromedp.Navigate(e.cfg.TargetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return scraper.Extraction{}, fmt.Errorf("navigate lookup form: %v: %w", err, scraper.ErrSessionUnusable)
	}

	// Settle like a human reading the page before touching anything.
	if err := sleep(tctx, e.pacer.Delay(e.pacer.RandomClass())); err != nil {
		return scraper.Extraction{}, err
	}
	if e.pacer.Chance(0.3) {
		e.wiggleMouse(tctx)
	}

	e.dismissCookieModal(tctx, log)

	if err := e.fillForm(tctx, parts, log); err != nil {
		return scraper.Extraction{}, err
	}
	if e.pacer.Chance(0.4) {
		e.scrollPage(tctx)
	}
	if err := e.submit(tctx, log); err != nil {
		return scraper.Extraction{}, err
	}

	if err := sleep(tctx, e.cfg.ResultWait); err != nil {
		return scraper.Extraction{}, err
	}

	var html string
	if err := chromedp.Run(tctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return scraper.Extraction{}, fmt.Errorf("read result page: %v: %w", err, scraper.ErrSessionUnusable)
	}

	record, err := e.readResult(tctx, job.ContributorNumber)
	if err != nil {
		return scraper.Extraction{HTML: []byte(html)}, err
	}
	log.Info("record extracted", zap.String("iptu", record.RegistrationNumber))
	return scraper.Extraction{Record: record}, nil
}

// splitContributorNumber normalizes an 11-digit contributor number and
// splits it into the 3/3/4/1 groups the form expects.
func splitContributorNumber(number string) ([4]string, error) {
	clean := strings.NewReplacer(".", "", "-", "", "/", "", " ", "").Replace(strings.TrimSpace(number))
	if len(clean) != 11 {
		return [4]string{}, fmt.Errorf("contributor number %q must have 11 digits", number)
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return [4]string{}, fmt.Errorf("contributor number %q must be numeric", number)
		}
	}
	return [4]string{clean[0:3], clean[3:6], clean[6:10], clean[10:11]}, nil
}

const cookieClickScript = `(function() {
	var buttons = document.querySelectorAll('input[type="button"], button');
	for (var i = 0; i < buttons.length; i++) {
		var text = (buttons[i].value || buttons[i].textContent || '').toLowerCase();
		if (text.includes('autorizo') && text.includes('cookies')) {
			buttons[i].click();
			return true;
		}
	}
	var direct = document.querySelector('input.cc__button__autorizacao--all');
	if (direct) {
		direct.click();
		return true;
	}
	return false;
})()`

const cookieCheckScript = `(function() {
	var buttons = document.querySelectorAll('input[type="button"]');
	for (var i = 0; i < buttons.length; i++) {
		var text = (buttons[i].value || '').toLowerCase();
		if (text.includes('autorizo') && text.includes('cookies')) {
			return true;
		}
	}
	return false;
})()`

// dismissCookieModal tries up to three times to close the consent modal.
// A stuck modal is logged and tolerated; the form may still be usable.
func (e *Extractor) dismissCookieModal(ctx context.Context, log *zap.Logger) {
	for attempt := 1; attempt <= 3; attempt++ {
		var clicked bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(cookieClickScript, &clicked)); err != nil {
			log.Debug("cookie consent click failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if err := sleep(ctx, e.pacer.Between(2*time.Second, 3*time.Second)); err != nil {
			return
		}

		var stillThere bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(cookieCheckScript, &stillThere)); err == nil && !stillThere {
			log.Debug("cookie modal dismissed", zap.Int("attempt", attempt))
			return
		}
	}
	log.Warn("cookie modal still present, continuing anyway")
}

// fillForm types the four contributor-number groups into the text inputs
// with randomized pauses between keystrokes.
func (e *Extractor) fillForm(ctx context.Context, parts [4]string, log *zap.Logger) error {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(`input[type='text']`, &nodes, chromedp.ByQueryAll)); err != nil {
		return fmt.Errorf("locate form inputs: %v: %w", err, scraper.ErrSessionUnusable)
	}
	if len(nodes) < 4 {
		return fmt.Errorf("lookup form has %d text inputs, want at least 4: %w", len(nodes), scraper.ErrRateLimited)
	}

	for i, part := range parts {
		ids := []cdp.NodeID{nodes[i].NodeID}
		if err := sleep(ctx, e.pacer.Between(300*time.Millisecond, 700*time.Millisecond)); err != nil {
			return err
		}
		if err := chromedp.Run(ctx,
			chromedp.Clear(ids, chromedp.ByNodeID),
			chromedp.SendKeys(ids, part, chromedp.ByNodeID),
		); err != nil {
			return fmt.Errorf("type field %d: %v: %w", i+1, err, scraper.ErrSessionUnusable)
		}
		if err := sleep(ctx, e.pacer.Between(400*time.Millisecond, 900*time.Millisecond)); err != nil {
			return err
		}
	}
	log.Debug("contributor number typed")
	return nil
}

const submitScript = `(function() {
	var btn = document.getElementById('_BtnAvancarDasii');
	if (btn) {
		btn.click();
		return true;
	}
	return false;
})()`

func (e *Extractor) submit(ctx context.Context, log *zap.Logger) error {
	if err := sleep(ctx, e.pacer.Between(2*time.Second, 3*time.Second)); err != nil {
		return err
	}
	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(submitScript, &clicked)); err != nil {
		return fmt.Errorf("submit form: %v: %w", err, scraper.ErrSessionUnusable)
	}
	if !clicked {
		return fmt.Errorf("submit button not found: %w", scraper.ErrRateLimited)
	}
	log.Debug("form submitted")
	return nil
}

// resultFields mirrors the named inputs on the result page.
type resultFields struct {
	HasIPTU    bool   `json:"hasIptu"`
	HasOwner   bool   `json:"hasOwner"`
	IPTU       string `json:"iptu"`
	Owner      string `json:"owner"`
	Buyer      string `json:"buyer"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement"`
	District   string `json:"district"`
	PostalCode string `json:"postalCode"`
}

const readResultScript = `(function() {
	var read = function(name) {
		var els = document.getElementsByName(name);
		if (!els.length) return '';
		var el = els[0];
		return (el.value || el.textContent || '').trim();
	};
	var has = function(name) { return document.getElementsByName(name).length > 0; };
	return {
		hasIptu: has('txtNumIPTU'),
		hasOwner: has('txtProprietarioNome'),
		iptu: read('txtNumIPTU'),
		owner: read('txtProprietarioNome'),
		buyer: read('txtCompromissarioNome'),
		street: read('txtEndereco'),
		number: read('txtNumero'),
		complement: read('txtComplemento'),
		district: read('txtBairro'),
		postalCode: read('txtCepImovel')
	};
})()`

// readResult reads the named result inputs. A page missing both the
// registration and owner fields never rendered results, which is the
// site's way of throttling us.
func (e *Extractor) readResult(ctx context.Context, contributorNumber string) (*scraper.Record, error) {
	var fields resultFields
	if err := chromedp.Run(ctx, chromedp.Evaluate(readResultScript, &fields)); err != nil {
		return nil, fmt.Errorf("read result fields: %v: %w", err, scraper.ErrSessionUnusable)
	}
	if !fields.HasIPTU && !fields.HasOwner {
		return nil, fmt.Errorf("result fields absent for %s: %w", contributorNumber, scraper.ErrRateLimited)
	}

	return &scraper.Record{
		ContributorNumber:  contributorNumber,
		RegistrationNumber: fields.IPTU,
		OwnerName:          fields.Owner,
		BuyerName:          fields.Buyer,
		Street:             fields.Street,
		Number:             fields.Number,
		Complement:         fields.Complement,
		District:           fields.District,
		PostalCode:         fields.PostalCode,
	}, nil
}

const wiggleScript = `(function() {
	var x = Math.floor(Math.random() * window.innerWidth);
	var y = Math.floor(Math.random() * window.innerHeight);
	document.dispatchEvent(new MouseEvent('mousemove', { clientX: x, clientY: y, bubbles: true }));
	return true;
})()`

func (e *Extractor) wiggleMouse(ctx context.Context) {
	var ok bool
	_ = chromedp.Run(ctx, chromedp.Evaluate(wiggleScript, &ok))
}

const scrollScript = `(function() {
	window.scrollBy(0, 200 + Math.floor(Math.random() * 400));
	return true;
})()`

func (e *Extractor) scrollPage(ctx context.Context) {
	var ok bool
	_ = chromedp.Run(ctx, chromedp.Evaluate(scrollScript, &ok))
	_ = chromedp.Run(ctx, chromedp.Evaluate(`window.scrollTo(0, 0); true`, &ok))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
