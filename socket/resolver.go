package socket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// resolveOutcome is what the worker goroutine hands back.
type resolveOutcome struct {
	addrs []net.IPAddr
	err   error
}

// resolveShared is the only datum the resolver worker shares with the
// loop goroutine. The worker checks sock under mu before posting to the loop,
// guaranteeing the signal is never delivered to a destroyed socket; the
// main thread clears sock under the same lock on abandonment/destruction.
type resolveShared struct {
	mu     sync.Mutex
	sock   *PlainSocket
	result *resolveOutcome
}

// startResolve launches the detached worker (a goroutine, this module's
// analogue of the original's detached thread) and arms the resolution
// timeout timer.
func (s *PlainSocket) startResolve() {
	s.resolveShared = &resolveShared{sock: s}
	clientID := s.loop.AddClient(s.resolved)
	s.resolveClientID = clientID

	shared := s.resolveShared
	host, port := s.host, s.port
	go resolveWorker(shared, s.loop, clientID, host, port)

	s.resolveTimer = s.loop.Delay(time.Duration(s.resolveTimeoutMs)*time.Millisecond, s.resolveTimeout)
}

func resolveWorker(shared *resolveShared, loop *eventloop.Loop, clientID eventloop.ClientId, host, port string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	_ = port // port is combined with each resolved address at connect time

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.sock == nil {
		return // socket was destroyed or resolution was abandoned
	}
	shared.result = &resolveOutcome{addrs: addrs, err: err}
	loop.PostClientEvent(clientID, eventloop.ClientData{})
}

// resolved runs on the loop goroutine when the worker has posted (or when
// the posted event arrives after a timeout already fired the timer --
// the generation-checked client id makes a stale post a silent no-op).
func (s *PlainSocket) resolved(eventloop.ClientData) {
	if s.state != StateResolving {
		return
	}
	s.loop.CancelTimer(s.resolveTimer)
	s.loop.RemoveClient(s.resolveClientID)

	s.resolveShared.mu.Lock()
	outcome := s.resolveShared.result
	s.resolveShared.mu.Unlock()
	s.resolveShared = nil

	if outcome == nil || outcome.err != nil || len(outcome.addrs) == 0 {
		s.failConnect(base.NewAddressError(resolveErrString(outcome)))
		return
	}

	s.addrs = outcome.addrs
	s.addrIndex = 0
	s.state = StateConnecting
	s.connectNext()
}

func resolveErrString(o *resolveOutcome) string {
	if o == nil || o.err == nil {
		return "getaddrinfo: no addresses"
	}
	return "getaddrinfo: " + o.err.Error()
}

// resolveTimeout abandons a stuck lookup: it clears the shared back
// pointer under the mutex (so the worker's eventual completion is a
// silent no-op) and fails the connection attempt.
func (s *PlainSocket) resolveTimeout() {
	if s.resolveShared != nil {
		s.resolveShared.mu.Lock()
		s.resolveShared.sock = nil
		s.resolveShared.mu.Unlock()
		s.resolveShared = nil
	}
	s.loop.RemoveClient(s.resolveClientID)
	s.failConnect(base.NewAddressError("getaddrinfo: timed out"))
}

// abandonResolve is called from Close: it detaches the worker the same
// way a timeout would, without reporting any event to the watcher.
func (s *PlainSocket) abandonResolve() {
	if s.resolveShared != nil {
		s.resolveShared.mu.Lock()
		s.resolveShared.sock = nil
		s.resolveShared.mu.Unlock()
		s.resolveShared = nil
	}
	s.loop.CancelTimer(s.resolveTimer)
	s.loop.RemoveClient(s.resolveClientID)
}
