// Package cos provides low-level types, typed errors and small utilities
// shared by every kernel package — the lowest layer in the dependency
// graph, importable from anywhere without creating cycles.
package cos

import (
	"fmt"

	"github.com/pkg/errors"
)

// FailCode categorizes why a send/enqueue did not succeed, passed to ack
// callbacks so the application can distinguish transient from fatal causes.
type FailCode int

const (
	FailNone FailCode = iota
	FailQueueFull
	FailREDDrop
	FailRetriesExhausted
	FailNoRoute
	FailLinkClosed
	FailAssemblyTimeout
)

func (c FailCode) String() string {
	switch c {
	case FailQueueFull:
		return "queue-full"
	case FailREDDrop:
		return "red-drop"
	case FailRetriesExhausted:
		return "retries-exhausted"
	case FailNoRoute:
		return "no-route"
	case FailLinkClosed:
		return "link-closed"
	case FailAssemblyTimeout:
		return "assembly-timeout"
	default:
		return "none"
	}
}

type (
	// ErrNoRoute is returned immediately when sending to an unknown destination.
	ErrNoRoute struct{ Dest int32 }

	// ErrQueueFull is returned by Connection.Enqueue when the target queue is at capacity.
	ErrQueueFull struct {
		Peer     int32
		Priority string
	}

	// ErrInvalidURL describes a malformed tuple-address URL; NewErrInvalidURL
	// builds it. No function in this module returns it.
	ErrInvalidURL struct{ URL string }

	// ErrIDCollision describes a peer whose advertised PeerID equals our own.
	// The handshake code reports that case with wire.ErrIDCollisionWire, not
	// with this type.
	ErrIDCollision struct{ ID int32 }
)

func (e *ErrNoRoute) Error() string      { return fmt.Sprintf("no route to peer %d", e.Dest) }
func (e *ErrQueueFull) Error() string    { return fmt.Sprintf("queue %q full for peer %d", e.Priority, e.Peer) }
func (e *ErrInvalidURL) Error() string   { return fmt.Sprintf("invalid tuple address URL %q", e.URL) }
func (e *ErrIDCollision) Error() string  { return fmt.Sprintf("peer id %d collides with our own", e.ID) }

func NewErrNoRoute(dest int32) error    { return errors.WithStack(&ErrNoRoute{Dest: dest}) }
func NewErrInvalidURL(url string) error { return errors.WithStack(&ErrInvalidURL{URL: url}) }

// Wrap attaches a stack trace the first time an internal error crosses into
// a user-visible ack callback or API return.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
