package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is the class of errors caused by a peer breaking
	// the framing rules.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrFrameTooLarge is returned when a frame header declares more than
	// MaxFrameSize bytes.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrProtocolViolation)

	// ErrConnectionClosed is returned when the connection closed before a
	// complete response frame arrived.
	ErrConnectionClosed = errors.New("connection closed before response")
)

// RemoteError is an error reported by the peer in its response, as
// opposed to a failure of the exchange itself.
type RemoteError struct {
	Peer    string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("peer %s: %s: %s", e.Peer, e.Code, e.Message)
	}
	return fmt.Sprintf("peer %s: %s", e.Peer, e.Message)
}

// IsProtocolViolation reports whether err is a framing violation.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

// IsRemote reports whether err is a peer-reported error.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
