package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var chromedpTracer = otel.Tracer("browser/chromedp")

// ChromedpBackend drives a real Chrome process, one per session. Use it
// for targets that only populate their data client-side.
type ChromedpBackend struct {
	Headless bool
	// ExecPath overrides the browser binary, empty means chromedp's
	// default lookup.
	ExecPath string
	// PollInterval is the delay between page snapshots during a
	// bounded wait, defaults to 250ms.
	PollInterval time.Duration
}

type chromedpSession struct {
	browserCtx context.Context
	cancels    []context.CancelFunc
	poll       time.Duration
}

func (b ChromedpBackend) Acquire(ctx context.Context, identity Identity) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(identity.UserAgent),
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// spawn the process eagerly so launch failures surface here
	// instead of on first navigation
	err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	poll := b.PollInterval
	if poll <= 0 {
		poll = time.Millisecond * 250
	}
	return &chromedpSession{
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{cancelBrowser, cancelAlloc},
		poll:       poll,
	}, nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	ctx, span := chromedpTracer.Start(ctx, "Navigate")
	defer span.End()

	runCtx, cancel := mergeDeadline(s.browserCtx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.Navigate(url))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// snapshot pulls the serialized DOM as it stands right now. Elements
// are resolved against snapshots so each pull reflects live page state.
func (s *chromedpSession) snapshot(ctx context.Context) (*goquery.Document, error) {
	runCtx, cancel := mergeDeadline(s.browserCtx, ctx)
	defer cancel()

	var outer string
	err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &outer))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(outer))
}

func (s *chromedpSession) FindElement(ctx context.Context, locator string, timeout time.Duration) (Element, error) {
	elems, err := s.find(ctx, locator, timeout)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	return elems[0], nil
}

func (s *chromedpSession) FindElements(ctx context.Context, locator string, timeout time.Duration) ([]Element, error) {
	return s.find(ctx, locator, timeout)
}

func (s *chromedpSession) find(ctx context.Context, locator string, timeout time.Duration) ([]Element, error) {
	ctx, span := chromedpTracer.Start(ctx, "find")
	defer span.End()

	deadline := time.Now().Add(timeout)
	for {
		doc, err := s.snapshot(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		elems := elementsFromDoc(doc, locator)
		if len(elems) > 0 {
			return elems, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

func (s *chromedpSession) Quit(ctx context.Context) error {
	// Cancel blocks until the browser process is gone, which is the
	// termination guarantee release relies on.
	err := chromedp.Cancel(s.browserCtx)
	for _, cancel := range s.cancels {
		cancel()
	}
	return err
}

// mergeDeadline bounds the long-lived browser context with the caller's
// deadline, chromedp.Run must observe per-call timeouts.
func mergeDeadline(browserCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callCtx.Deadline(); ok {
		return context.WithDeadline(browserCtx, deadline)
	}
	return context.WithCancel(browserCtx)
}
