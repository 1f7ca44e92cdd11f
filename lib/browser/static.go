package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"mkprocessor/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var staticTracer = otel.Tracer("browser/static")

// StaticBackend serves pages over plain HTTP, it is the right backend
// for targets that render server-side and don't need a script runtime.
// Polling waits re-fetch the page so late content still shows up.
type StaticBackend struct {
	// PollInterval is the delay between re-fetches during a bounded
	// wait, defaults to one second.
	PollInterval time.Duration
	// RequestsPerSecond bounds outgoing fetches, defaults to 2.
	RequestsPerSecond float64
}

type staticSession struct {
	http    *resty.Client
	poll    time.Duration
	current string
	doc     *goquery.Document
}

func (b StaticBackend) Acquire(ctx context.Context, identity Identity) (Session, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", identity.UserAgent)
	client.SetTimeout(time.Second * 30)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	rps := b.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "browser/static/http")

	poll := b.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &staticSession{http: client, poll: poll}, nil
}

func (s *staticSession) fetch(ctx context.Context, url string) error {
	res, err := s.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("unexpected status %s", res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return err
	}
	s.current = url
	s.doc = doc
	return nil
}

func (s *staticSession) Navigate(ctx context.Context, url string) error {
	ctx, span := staticTracer.Start(ctx, "Navigate")
	defer span.End()

	err := s.fetch(ctx, url)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *staticSession) FindElement(ctx context.Context, locator string, timeout time.Duration) (Element, error) {
	elems, err := s.find(ctx, locator, timeout, true)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	return elems[0], nil
}

func (s *staticSession) FindElements(ctx context.Context, locator string, timeout time.Duration) ([]Element, error) {
	return s.find(ctx, locator, timeout, false)
}

// find polls the page until the locator matches or the deadline passes.
// With required=false an exhausted wait is an empty result, the caller
// decides whether empty is terminal.
func (s *staticSession) find(ctx context.Context, locator string, timeout time.Duration, required bool) ([]Element, error) {
	ctx, span := staticTracer.Start(ctx, "find")
	defer span.End()

	if s.doc == nil {
		err := fmt.Errorf("find before navigate")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		elems := elementsFromDoc(s.doc, locator)
		if len(elems) > 0 {
			return elems, nil
		}
		if time.Now().After(deadline) {
			if required {
				span.SetStatus(codes.Error, "wait exhausted")
			}
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
		// static pages only change when re-fetched
		if err := s.fetch(ctx, s.current); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
}

func (s *staticSession) Quit(ctx context.Context) error {
	s.http.GetClient().CloseIdleConnections()
	s.doc = nil
	return nil
}
