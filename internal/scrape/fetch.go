// Package scrape fetches web pages cited as sources and reduces them to
// plain text.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/verifier/internal/resilience"
)

// Defaults for PageFetcher.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultRetries      = 2
	DefaultUserAgent    = "Mozilla/5.0 (compatible; TutorVerifier/1.0; +https://sells-group.com/bot)"

	maxBodyBytes = 2 << 20
)

// Page is a fetched and text-extracted web page.
type Page struct {
	URL        string
	FinalURL   string
	Title      string
	Text       string
	StatusCode int
	Method     string
}

// Fetcher fetches a single URL and returns its text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Options configures a PageFetcher. Zero values take the defaults.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	Retries      int
	// RetryBackoff overrides the delay between retries.
	RetryBackoff resilience.BackoffFunc
}

// PageFetcher fetches HTML over net/http with a bounded timeout, a
// redirect cap, and a small retry budget for transient failures.
type PageFetcher struct {
	client *http.Client
	opts   Options
}

var _ Fetcher = (*PageFetcher)(nil)

var errTooManyRedirects = errors.New("too many redirects")

// NewPageFetcher creates a PageFetcher.
func NewPageFetcher(opts Options) *PageFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	maxRedirects := opts.MaxRedirects
	return &PageFetcher{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: opts.Timeout,
				}).DialContext,
				TLSHandshakeTimeout:   opts.Timeout,
				ResponseHeaderTimeout: opts.Timeout,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
	}
}

// Fetch retrieves targetURL and extracts its text. Errors are *FetchError
// values carrying a Kind.
func (f *PageFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = f.opts.Retries + 1
	cfg.Backoff = f.opts.RetryBackoff
	cfg.OnRetry = resilience.RetryLogger("web", "fetch")

	page, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Page, error) {
		return f.fetchOnce(ctx, targetURL)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{Kind: Classify(err), URL: targetURL, Err: err}
	}
	return page, nil
}

func (f *PageFetcher) fetchOnce(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindFailed, URL: targetURL, Err: eris.Wrap(err, "scrape: create request")}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := Classify(err)
		fe := &FetchError{Kind: kind, URL: targetURL, Err: eris.Wrap(err, "scrape: fetch")}
		if resilience.IsTransient(err) {
			return nil, resilience.NewTransientError(fe, 0)
		}
		return nil, fe
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(
			&FetchError{Kind: Classify(err), URL: targetURL, Err: eris.Wrap(err, "scrape: read body")}, 0)
	}

	if bt := DetectBlock(resp, body); bt != BlockNone {
		return nil, &FetchError{
			Kind:       KindBlocked,
			URL:        targetURL,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("scrape: blocked (%s)", bt),
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &FetchError{Kind: KindNotFound, URL: targetURL, StatusCode: resp.StatusCode,
			Err: eris.Errorf("scrape: status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		fe := &FetchError{Kind: KindFailed, URL: targetURL, StatusCode: resp.StatusCode,
			Err: eris.Errorf("scrape: status %d", resp.StatusCode)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(fe, resp.StatusCode)
		}
		return nil, fe
	}

	ex, err := ExtractText(body, resp.Request.URL.String())
	if err != nil {
		return nil, &FetchError{Kind: KindExtraction, URL: targetURL, StatusCode: resp.StatusCode, Err: err}
	}

	return &Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		Title:      ex.Title,
		Text:       ex.Text,
		StatusCode: resp.StatusCode,
		Method:     ex.Method,
	}, nil
}

// ErrorKind categorizes a fetch failure.
type ErrorKind string

const (
	KindDNS        ErrorKind = "dns"
	KindTimeout    ErrorKind = "timeout"
	KindBlocked    ErrorKind = "blocked"
	KindNotFound   ErrorKind = "not_found"
	KindRedirects  ErrorKind = "redirects"
	KindExtraction ErrorKind = "extraction"
	KindFailed     ErrorKind = "failed"
)

// FetchError is returned by PageFetcher for every failure.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Describe renders the failure as the message recorded on an unverified
// source.
func (e *FetchError) Describe() string {
	switch e.Kind {
	case KindDNS:
		return "could not resolve host for " + e.URL + " (DNS lookup failed)"
	case KindTimeout:
		return "timed out fetching " + e.URL
	case KindBlocked:
		return fmt.Sprintf("access forbidden by %s (HTTP %d, bot-blocked)", e.URL, e.StatusCode)
	case KindNotFound:
		return fmt.Sprintf("page not found at %s (HTTP %d)", e.URL, e.StatusCode)
	case KindRedirects:
		return "too many redirects fetching " + e.URL
	case KindExtraction:
		return "could not extract text from " + e.URL
	default:
		if e.StatusCode > 0 {
			return fmt.Sprintf("failed to fetch %s (HTTP %d)", e.URL, e.StatusCode)
		}
		return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
	}
}

// Classify maps a transport error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}
	if errors.Is(err, errTooManyRedirects) {
		return KindRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindFailed
}
