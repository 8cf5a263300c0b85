package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/pkg/rotation"
)

// Session is a single Chrome tab.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	navTimeout  time.Duration
	logger      *logging.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ rotation.Session = (*Session)(nil)

// element is a located node. Node IDs are invalidated by navigation.
type element struct {
	loc    rotation.Locator
	nodeID cdp.NodeID
	tag    string
	typ    string
}

func (e *element) Locator() rotation.Locator { return e.loc }

// opContext derives a context that carries the tab and is cancelled when
// either the tab or ctx is done.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if timeout <= 0 {
		return opCtx, func() {
			stop()
			cancel()
		}
	}
	tctx, tcancel := context.WithTimeout(opCtx, timeout)
	return tctx, func() {
		tcancel()
		stop()
		cancel()
	}
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to %s", url)

	navCtx, cancel := s.opContext(ctx, s.navTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("navigation timed out after %s: %w", s.navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// FindElement waits up to timeout for a visible node matching loc.
func (s *Session) FindElement(ctx context.Context, loc rotation.Locator, timeout time.Duration) (rotation.Element, error) {
	q, err := translate(loc)
	if err != nil {
		return nil, err
	}

	findCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	start := time.Now()
	var nodes []*cdp.Node
	err = chromedp.Run(findCtx, chromedp.Nodes(q.sel, &nodes, q.by, chromedp.NodeVisible))
	if err != nil {
		if ctx.Err() == nil && errors.Is(findCtx.Err(), context.DeadlineExceeded) {
			return nil, &rotation.ElementTimeoutError{Locator: loc, Elapsed: time.Since(start)}
		}
		return nil, fmt.Errorf("query %s: %w", loc, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", rotation.ErrElementNotFound, loc)
	}

	n := nodes[0]
	s.logger.Debug("Found %s (<%s>)", loc, strings.ToLower(n.NodeName))
	return &element{
		loc:    loc,
		nodeID: n.NodeID,
		tag:    strings.ToLower(n.NodeName),
		typ:    strings.ToLower(n.AttributeValue("type")),
	}, nil
}

// SendKeys replaces the element's value with text.
func (s *Session) SendKeys(ctx context.Context, el rotation.Element, text string) error {
	e, err := asElement(el)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx, 0)
	defer cancel()

	ids := []cdp.NodeID{e.nodeID}
	err = chromedp.Run(opCtx,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.Clear(ids, chromedp.ByNodeID),
		chromedp.SendKeys(ids, text, chromedp.ByNodeID),
	)
	if err != nil {
		// never include text: it is usually a secret
		return fmt.Errorf("type into %s: %w", e.loc, err)
	}
	return nil
}

// Submit clicks buttons and links, and presses Enter in text inputs so the
// page's own submit handlers run.
func (s *Session) Submit(ctx context.Context, el rotation.Element) error {
	e, err := asElement(el)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx, 0)
	defer cancel()

	ids := []cdp.NodeID{e.nodeID}
	var action chromedp.Action
	if pressesEnter(e.tag, e.typ) {
		action = chromedp.SendKeys(ids, kb.Enter, chromedp.ByNodeID)
	} else {
		action = chromedp.Click(ids, chromedp.ByNodeID)
	}
	if err := chromedp.Run(opCtx, action); err != nil {
		return fmt.Errorf("submit %s: %w", e.loc, err)
	}
	return nil
}

// Present reports whether loc currently matches any node. It does not wait.
func (s *Session) Present(ctx context.Context, loc rotation.Locator) (bool, error) {
	q, err := translate(loc)
	if err != nil {
		return false, err
	}

	opCtx, cancel := s.opContext(ctx, 0)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(opCtx, chromedp.Nodes(q.sel, &nodes, q.by, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// Close closes the tab and stops the browser. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = err
		}
		s.cancelTab()
		s.cancelAlloc()
		s.logger.Debug("Browser session closed")
	})
	return s.closeErr
}

func asElement(el rotation.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, fmt.Errorf("element %v was not located by this session", el)
	}
	return e, nil
}

func pressesEnter(tag, typ string) bool {
	if tag != "input" {
		return false
	}
	switch typ {
	case "submit", "button", "image", "checkbox", "radio", "reset":
		return false
	}
	return true
}
