package proxy

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	ErrEmptyName       = errors.New("proxy name cannot be empty")
	ErrInvalidName     = errors.New("proxy name cannot contain '.'")
	ErrProxyExists     = errors.New("proxy already exists")
	ErrProxyNotFound   = errors.New("proxy not found")
	ErrInvalidType     = errors.New("invalid proxy type")
	ErrUnknownProperty = errors.New("unknown proxy property")
	ErrIncomplete      = errors.New("proxy definition incomplete")
)

// Error wraps an error with proxy context.
type Error struct {
	Proxy string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("proxy %s: %s: %v", e.Proxy, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(name, op string, err error) *Error {
	return &Error{
		Proxy: name,
		Op:    op,
		Err:   err,
	}
}

// ProxyName returns the proxy name from an Error, or "" if err is not one.
func ProxyName(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Proxy
	}
	return ""
}
