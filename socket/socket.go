// Package socket implements the non-blocking, optionally TLS-wrapped
// socket layer the IRC connection and RPC transport are both built on.
//
// Grounded on original_source/event/socket.{h,cc} for the state machine
// and resolver-thread discipline, and on the teacher's reactor/epoll
// style for how readiness is driven through an eventloop.Loop.
package socket

import (
	"github.com/marrowbot/ircbotcore/base"
)

// Kind is the socket type requested from the Builder.
type Kind int

const (
	KindStream Kind = iota
	KindDatagram
	KindSeqpacket
)

// State is the outgoing socket's lifecycle.
type State int

const (
	StateInitialized State = iota
	StateResolving
	StateConnecting
	StateOpen
	StateFailed
	stateDestroyed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return "destroyed"
	}
}

// Watcher receives lifecycle and readiness events from a Socket.
type Watcher interface {
	// ConnectionOpen is called exactly once, iff ConnectionFailed never is.
	ConnectionOpen()
	// ConnectionFailed is called exactly once, iff ConnectionOpen never is.
	ConnectionFailed(err error)
	// CanRead is called when WantRead(true) is in effect and the
	// descriptor is readable.
	CanRead()
	// CanWrite is called when WantWrite(true) is in effect and the
	// descriptor is writable.
	CanWrite()
}

// Socket is an asynchronous, optionally TLS-wrapped, non-blocking
// connection.
type Socket interface {
	// Start begins connecting. It may only be called on a socket still in
	// StateInitialized; an accepted socket is already Open and is not
	// started.
	Start()
	// WantRead toggles read readiness interest.
	WantRead(enabled bool)
	// WantWrite toggles write readiness interest.
	WantWrite(enabled bool)
	// Read attempts a non-blocking read into buf.
	Read(buf []byte) base.IOResult
	// Write attempts a non-blocking write of buf. For a TLS socket, a
	// partial write must be retried with the identical slice contents.
	Write(buf []byte) base.IOResult
	// SafeToRead/SafeToWrite report whether the other direction may be
	// initiated without interfering with a pending TLS operation. Plain
	// sockets always return true.
	SafeToRead() bool
	SafeToWrite() bool
	// Close releases the underlying descriptor and cancels any timers
	// or in-flight resolution this socket owns.
	Close() error
}
