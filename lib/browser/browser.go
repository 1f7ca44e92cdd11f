package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by FindElement once the bounded wait for a
// locator has been exhausted.
var ErrNotFound = errors.New("element not found")

// SessionError wraps failures to start the backend or to bring the
// target url into a loaded state.
type SessionError struct {
	Op  string
	Url string
	Err error
}

func (e *SessionError) Error() string {
	if e.Url == "" {
		return fmt.Sprintf("session %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("session %s %s: %s", e.Op, e.Url, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Element is a handle to one located node on the current page.
type Element interface {
	Text() string
	Attr(name string) (string, bool)
}

// Session is one live navigated browser state. Locators are CSS
// selectors. FindElement waits up to `timeout` for at least one match,
// polling the live page, and returns ErrNotFound once the wait is
// exhausted. FindElements waits the same way but yields an empty slice
// instead of an error when nothing ever matches.
type Session interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, locator string, timeout time.Duration) (Element, error)
	FindElements(ctx context.Context, locator string, timeout time.Duration) ([]Element, error)
	Quit(ctx context.Context) error
}

// Backend launches sessions against a concrete automation product.
type Backend interface {
	Acquire(ctx context.Context, identity Identity) (Session, error)
}

// Acquire launches a session through the backend, picks a client
// identity once (it is held for the whole session lifetime) and
// navigates to the target url within the given bound.
func Acquire(ctx context.Context, backend Backend, targetUrl string, policy IdentityPolicy, navigateTimeout time.Duration) (Session, error) {
	identity, err := policy()
	if err != nil {
		return nil, &SessionError{Op: "identity", Err: err}
	}

	session, err := backend.Acquire(ctx, identity)
	if err != nil {
		return nil, &SessionError{Op: "launch", Err: err}
	}

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	err = session.Navigate(navCtx, targetUrl)
	if err != nil {
		// the browser process is already up, don't leak it
		session.Quit(context.Background())
		return nil, &SessionError{Op: "navigate", Url: targetUrl, Err: err}
	}

	return session, nil
}

// WithSession scopes a session's use, Quit always runs even when the
// body fails.
func WithSession(ctx context.Context, backend Backend, targetUrl string, policy IdentityPolicy, navigateTimeout time.Duration, use func(Session) error) error {
	session, err := Acquire(ctx, backend, targetUrl, policy, navigateTimeout)
	if err != nil {
		return err
	}
	defer session.Quit(context.Background())
	return use(session)
}
