package rpc

import (
	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/socket"
)

// Dispatcher maps a 4-byte method code to a freshly constructed
// Endpoint, or reports the code unknown.
type Dispatcher interface {
	Dispatch(method uint32) (Endpoint, bool)
}

// DefaultMaxCalls bounds concurrent calls a Server will accept from any
// single remote address. The original's RPC server does not bound this
// at all; this is the admission limit a production rewrite adds.
const DefaultMaxCalls = 64

// Server accepts connections on one or more listeners and turns each
// into a Call dispatched by a Dispatcher.
type Server struct {
	loop       *eventloop.Loop
	log        *base.Logger
	dispatcher Dispatcher
	calls      *Set
	maxCalls   int
	byRemote   map[string]int
	listeners  []*socket.Listener
}

// NewServer builds a Server. maxCalls of zero uses DefaultMaxCalls.
func NewServer(loop *eventloop.Loop, log *base.Logger, dispatcher Dispatcher, maxCalls int) *Server {
	if log == nil {
		log = base.NopLogger()
	}
	if maxCalls == 0 {
		maxCalls = DefaultMaxCalls
	}
	return &Server{
		loop:       loop,
		log:        log,
		dispatcher: dispatcher,
		calls:      NewSet(),
		maxCalls:   maxCalls,
		byRemote:   make(map[string]int),
	}
}

// Calls returns the set of currently live calls.
func (s *Server) Calls() *Set { return s.calls }

// ListenTCP starts accepting TCP connections.
func (s *Server) ListenTCP(host, port string) error {
	l, err := socket.ListenTCP(s.loop, s.log, s, host, port)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, l)
	return nil
}

// ListenUnix starts accepting local-domain connections.
func (s *Server) ListenUnix(path string) error {
	l, err := socket.ListenUnix(s.loop, s.log, s, path)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, l)
	return nil
}

// Close stops accepting new connections and closes every live call
// without flushing.
func (s *Server) Close() {
	for _, l := range s.listeners {
		l.Close()
	}
	s.listeners = nil
	s.calls.CloseAll()
}

// Accepted implements socket.ListenerWatcher. Admission is limited per
// remote address (the maxCalls given to NewServer, DefaultMaxCalls by
// default, concurrent calls from any one peer),
// resolving the unbounded-concurrency question left open by the
// original: it had no cap at all.
func (s *Server) Accepted(sock *socket.PlainSocket) {
	addr := sock.RemoteAddr()
	if s.byRemote[addr] >= s.maxCalls {
		s.log.Warn().Str("remote", addr).Int("max", s.maxCalls).Msg("rpc: admission limit reached, dropping connection")
		sock.Close()
		return
	}
	s.byRemote[addr]++

	call := newCall(s.loop, s.log, sock, s.calls)
	call.dispatcher = s.dispatcher
	call.state = StateDispatching
	call.onFinalize = func() {
		s.byRemote[addr]--
		if s.byRemote[addr] <= 0 {
			delete(s.byRemote, addr)
		}
	}
	sock.SetWatcher(call)
	sock.WantRead(true)
}

// AcceptError implements socket.ListenerWatcher.
func (s *Server) AcceptError(err error) {
	s.log.Error().Err(err).Msg("rpc: accept failed")
}
