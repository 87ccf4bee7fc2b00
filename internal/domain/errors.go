package domain

import "errors"

var (
	// ErrTrackNotFound is returned by lookups when the service has no match. It is an expected outcome.
	ErrTrackNotFound = errors.New("track not found")
	// ErrMissingCredentials is a fatal configuration error
	ErrMissingCredentials = errors.New("missing lookup service credentials")
	// ErrNotConnected is returned when a write is attempted without a live connection
	ErrNotConnected = errors.New("peripheral not connected")
	// ErrLinkLost is returned to in-flight writes when the connection drops
	ErrLinkLost = errors.New("peripheral link lost")
	// ErrNoSession is returned when a queried media session no longer exists
	ErrNoSession = errors.New("media session not found")
	// ErrUnsupported is returned by platform stubs
	ErrUnsupported = errors.New("not supported on this platform")
)

func IsTrackNotFound(err error) bool { return errors.Is(err, ErrTrackNotFound) }
func IsLinkLost(err error) bool      { return errors.Is(err, ErrLinkLost) }
