package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

const navigateTimeout = 30 * time.Second

// BrowserFetcher renders posting pages in headless Chrome with stealth
// patches applied, for boards that only serve the description to a real
// browser. Chrome is started on first use.
type BrowserFetcher struct {
	remoteURL string
	logger    *slog.Logger
	launch    func() (wsURL string, kill func(), err error)

	mu      sync.Mutex
	browser *rod.Browser
	kill    func()
}

// NewBrowserFetcher connects to remoteURL when set, otherwise launches a
// local headless Chrome.
func NewBrowserFetcher(remoteURL string, logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserFetcher{remoteURL: remoteURL, logger: logger, launch: launchLocal}
}

func launchLocal() (string, func(), error) {
	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	u, err := l.Launch()
	if err != nil {
		return "", nil, err
	}
	return u, l.Kill, nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	br, err := b.connect()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	page, err := stealth.Page(br)
	if err != nil {
		return "", fmt.Errorf("%w: open tab: %v", ErrFetchFailed, err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	page = page.Context(navCtx)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("%w: navigate %s: %v", ErrFetchFailed, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		b.logger.Warn("browser: wait load timeout", "url", url, "err", err)
	}

	raw, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("%w: read dom: %v", ErrFetchFailed, err)
	}
	return ExtractText(raw, url), nil
}

func (b *BrowserFetcher) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.remoteURL
	if wsURL == "" {
		u, kill, err := b.launch()
		if err != nil {
			return nil, fmt.Errorf("browser launch: %w", err)
		}
		wsURL = u
		b.kill = kill
		b.logger.Info("browser: launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		// a Chrome we started but cannot drive is killed; the next Fetch
		// launches a fresh one
		if b.kill != nil {
			b.kill()
			b.kill = nil
		}
		return nil, fmt.Errorf("browser connect: %w", err)
	}
	b.browser = br
	return br, nil
}

// Close shuts Chrome down if it was started.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.kill != nil {
		b.kill()
		b.kill = nil
	}
	return err
}
