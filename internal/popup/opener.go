package popup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"walletgate/internal/config"
	"walletgate/internal/domain"
)

// RefWindowFunc reports the bounds of the window the popup should be
// positioned against, typically the browser window that raised the request.
type RefWindowFunc func(ctx context.Context, req domain.Request) (domain.WindowBounds, error)

// Window opens warning popups as app-mode Chrome windows. Each popup keeps
// its own browser context alive until the user acts or the gateway shuts
// down; the page itself posts the verdict back over HTTP.
type Window struct {
	cfg       config.PopupConfig
	baseURL   string
	refWindow RefWindowFunc
	logger    *slog.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
}

func NewWindow(cfg config.PopupConfig, baseURL string, refWindow RefWindowFunc, logger *slog.Logger) *Window {
	return &Window{
		cfg:       cfg,
		baseURL:   baseURL,
		refWindow: refWindow,
		logger:    logger,
	}
}

// Open presents a popup for req. It returns once the window is up and
// positioned; the window then lives independently of ctx.
func (w *Window) Open(ctx context.Context, req domain.Request, desc domain.Descriptor) error {
	pageURL, err := BuildURL(w.baseURL, req, desc)
	if err != nil {
		return fmt.Errorf("build popup url: %w", err)
	}

	ref := domain.WindowBounds{}
	if w.refWindow != nil {
		r, err := w.refWindow(ctx, req)
		if err != nil {
			w.logger.Debug("reference window unavailable, using origin", "err", err)
		} else {
			ref = r
		}
	}
	bounds := Geometry(ref, desc.ContentLines, req.Bypassed)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("app", pageURL),
		chromedp.Flag("window-size", strconv.Itoa(bounds.Width)+","+strconv.Itoa(bounds.Height)),
		chromedp.Flag("window-position", strconv.Itoa(bounds.Left)+","+strconv.Itoa(bounds.Top)),
		chromedp.Flag("disable-extensions", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if w.cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(w.cfg.BrowserPath))
	}
	if w.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cancelAll()
		return fmt.Errorf("popup opener closed")
	}
	w.cancels = append(w.cancels, cancelAll)
	w.mu.Unlock()

	// Starting the browser is enough to load the page: the URL travels in
	// the --app flag.
	if err := chromedp.Run(taskCtx); err != nil {
		cancelAll()
		return fmt.Errorf("launch popup window: %w", err)
	}

	w.logger.Info("popup opened",
		"request_id", req.ID, "kind", desc.Kind,
		"left", bounds.Left, "top", bounds.Top, "width", bounds.Width, "height", bounds.Height)

	// Window managers may override the initial placement; re-apply the
	// bounds once after the window settles.
	go func() {
		time.Sleep(settleDelay)
		if err := applyBounds(taskCtx, bounds); err != nil {
			w.logger.Debug("bounds re-apply failed", "request_id", req.ID, "err", err)
		}
	}()

	return nil
}

func applyBounds(ctx context.Context, b domain.WindowBounds) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, _, err := browser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		return browser.SetWindowBounds(id, &browser.Bounds{
			Left:   int64(b.Left),
			Top:    int64(b.Top),
			Width:  int64(b.Width),
			Height: int64(b.Height),
		}).Do(ctx)
	}))
}

// Close tears down every popup window still open.
func (w *Window) Close() {
	w.mu.Lock()
	cancels := w.cancels
	w.cancels = nil
	w.closed = true
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
