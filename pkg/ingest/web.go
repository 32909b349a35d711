package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/pkg/memory"
)

// Page is the extracted text of one web page.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Extractor renders pages in a headless browser and pulls out their
// visible text. Static fetching misses script-rendered content, which
// is most of what people want to remember.
type Extractor struct {
	logger  zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewExtractor creates a web page extractor. The browser launches
// lazily on first use.
func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{
		logger:  logger.With().Str("component", "web-extractor").Logger(),
		timeout: 30 * time.Second,
	}
}

// Close shuts the headless browser down.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			return err
		}
		e.browser = nil
	}
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher = nil
	}
	return nil
}

func (e *Extractor) connect() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		return e.browser, nil
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	e.launcher = l
	e.browser = browser
	return browser, nil
}

// Extract renders a page and returns its title and visible text.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (Page, error) {
	if err := validateURL(pageURL); err != nil {
		return Page{}, err
	}

	browser, err := e.connect()
	if err != nil {
		return Page{}, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return Page{}, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(e.timeout)

	if err := page.Navigate(pageURL); err != nil {
		return Page{}, fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("page load timeout for %s: %w", pageURL, err)
	}

	title, err := page.Eval(`() => document.title`)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read title: %w", err)
	}
	text, err := page.Eval(`() => document.body.innerText`)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read page text: %w", err)
	}

	result := Page{
		URL:   pageURL,
		Title: strings.TrimSpace(title.Value.Str()),
		Text:  strings.TrimSpace(text.Value.Str()),
	}
	e.logger.Debug().
		Str("url", pageURL).
		Int("text_len", len(result.Text)).
		Msg("Page extracted")
	return result, nil
}

// Ingest extracts a page and stores it for a tenant.
func (e *Extractor) Ingest(ctx context.Context, store *memory.Store, tenantID, pageURL string) (string, error) {
	page, err := e.Extract(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if page.Text == "" {
		return "", fmt.Errorf("page %s has no extractable text", pageURL)
	}

	content := page.Text
	if page.Title != "" {
		content = page.Title + "\n\n" + content
	}

	return store.Add(ctx, memory.AddRequest{
		TenantID: tenantID,
		Content:  content,
		Tags:     []string{"web", page.URL},
	})
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
