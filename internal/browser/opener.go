package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/pkg/rotation"
)

const (
	defaultStartTimeout      = 30 * time.Second
	defaultNavigationTimeout = 60 * time.Second
	defaultWindowWidth       = 1280
	defaultWindowHeight      = 900
)

// Opener launches a fresh browser for every session.
type Opener struct {
	cfg    config.Browser
	logger *logging.Logger
}

// NewOpener creates an opener for the given browser configuration.
func NewOpener(cfg config.Browser, logger *logging.Logger) *Opener {
	return &Opener{cfg: cfg, logger: logger.Named("browser")}
}

// Open starts Chrome, opens a tab and waits until the tab is usable. The
// browser is bound to ctx: cancelling it terminates the process.
func (o *Opener) Open(ctx context.Context) (rotation.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(o.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(o.logger.Debug),
		chromedp.WithDebugf(func(string, ...interface{}) {}),
		chromedp.WithErrorf(o.logger.Debug),
	)

	startTimeout := parseDuration(o.cfg.StartTimeout, defaultStartTimeout)
	timer := time.AfterFunc(startTimeout, allocCancel)
	err := chromedp.Run(tabCtx)
	expired := !timer.Stop()
	if err != nil || expired {
		tabCancel()
		allocCancel()
		if expired {
			return nil, fmt.Errorf("browser did not start within %s", startTimeout)
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	o.logger.Debug("Browser session opened (headless=%t)", o.cfg.IsHeadless())
	return &Session{
		ctx:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
		navTimeout:  parseDuration(o.cfg.NavigationTimeout, defaultNavigationTimeout),
		logger:      o.logger,
	}, nil
}

// execOptions builds allocator options. Defaults are listed explicitly so
// headless can be switched off.
func execOptions(cfg config.Browser) []chromedp.ExecAllocatorOption {
	width, height := cfg.WindowWidth, cfg.WindowHeight
	if width <= 0 {
		width = defaultWindowWidth
	}
	if height <= 0 {
		height = defaultWindowHeight
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),
		chromedp.WindowSize(width, height),
	}
	if cfg.IsHeadless() {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for _, f := range cfg.Flags {
		opts = append(opts, parseFlag(f))
	}
	return opts
}

// parseFlag turns "name" or "name=value" (leading dashes optional) into an
// allocator flag.
func parseFlag(raw string) chromedp.ExecAllocatorOption {
	name, value, hasValue := splitFlag(raw)
	if hasValue {
		return chromedp.Flag(name, value)
	}
	return chromedp.Flag(name, true)
}

func splitFlag(raw string) (name, value string, hasValue bool) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	name, value, hasValue = strings.Cut(raw, "=")
	return name, value, hasValue
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
