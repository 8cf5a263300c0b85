package rotation

import (
	"context"
	"time"
)

// Opener acquires automation sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }

// Element is a handle to a located page element. It is only valid for the
// session that returned it.
type Element interface {
	Locator() Locator
}

// Session drives one browser tab.
//
// FindElement waits at most timeout for a visible match. On expiry it returns
// an error wrapping ErrElementNotFound or context.DeadlineExceeded.
// Present checks once and never waits.
type Session interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	SendKeys(ctx context.Context, el Element, text string) error
	Submit(ctx context.Context, el Element) error
	Present(ctx context.Context, loc Locator) (bool, error)
	Close() error
}
