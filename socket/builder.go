package socket

import (
	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// maxLocalPathLen is the longest path that fits in a sockaddr_un's
// sun_path, leaving room for the leading family/len fields and the
// terminating NUL unix.SockaddrUnix always appends.
const maxLocalPathLen = unix.SizeofSockaddrUnix - 3

// Builder assembles the arguments for a new outgoing socket, mirroring
// original_source/event/socket.h's Socket::Builder fluent setter style.
type Builder struct {
	loopVal             *eventloop.Loop
	logVal              *base.Logger
	watcherVal          Watcher
	hostVal             string
	portVal             string
	localPathVal        string
	kindVal             Kind
	tlsVal              bool
	clientCertVal       string
	clientKeyVal        string
	resolveTimeoutMsVal int
	connectTimeoutMsVal int
}

// NewBuilder returns a Builder with the original's default timeouts
// (30s resolve, 60s connect).
func NewBuilder() *Builder {
	return &Builder{
		resolveTimeoutMsVal: 30000,
		connectTimeoutMsVal: 60000,
	}
}

func (b *Builder) Loop(v *eventloop.Loop) *Builder    { b.loopVal = v; return b }
func (b *Builder) Log(v *base.Logger) *Builder        { b.logVal = v; return b }
func (b *Builder) Watcher(v Watcher) *Builder         { b.watcherVal = v; return b }
func (b *Builder) Host(v string) *Builder             { b.hostVal = v; return b }
func (b *Builder) Port(v string) *Builder             { b.portVal = v; return b }
func (b *Builder) LocalPath(v string) *Builder        { b.localPathVal = v; return b }
func (b *Builder) Kind(v Kind) *Builder               { b.kindVal = v; return b }
func (b *Builder) TLS(v bool) *Builder                { b.tlsVal = v; return b }
func (b *Builder) ClientCert(v string) *Builder       { b.clientCertVal = v; return b }
func (b *Builder) ClientKey(v string) *Builder        { b.clientKeyVal = v; return b }

// ResolveTimeoutMs sets the hostname resolution timeout. Zero leaves
// the default (30s) in effect, matching the original's "if (v)" guard.
func (b *Builder) ResolveTimeoutMs(v int) *Builder {
	if v != 0 {
		b.resolveTimeoutMsVal = v
	}
	return b
}

// ConnectTimeoutMs sets the per-address connect timeout. Zero leaves
// the default (60s) in effect.
func (b *Builder) ConnectTimeoutMs(v int) *Builder {
	if v != 0 {
		b.connectTimeoutMsVal = v
	}
	return b
}

// Build validates the accumulated arguments and returns a Socket ready
// for Start. Exactly one of Host/Port or LocalPath must be set.
func (b *Builder) Build() (Socket, error) {
	if b.loopVal == nil {
		return nil, base.NewLogicalError("socket.Builder: Loop is required")
	}
	if b.localPathVal == "" && (b.hostVal == "" || b.portVal == "") {
		return nil, base.NewLogicalError("socket.Builder: Host and Port, or LocalPath, are required")
	}
	if b.localPathVal != "" && (b.hostVal != "" || b.portVal != "") {
		return nil, base.NewLogicalError("socket.Builder: LocalPath is exclusive with Host/Port")
	}
	if b.tlsVal && b.localPathVal != "" {
		return nil, base.NewLogicalError("socket.Builder: TLS is not supported for local-domain sockets")
	}
	if b.tlsVal && b.kindVal != KindStream {
		return nil, base.NewLogicalError("socket.Builder: TLS is only supported over a stream socket")
	}
	if len(b.localPathVal) > maxLocalPathLen {
		return nil, base.NewPathError("socket.Builder: LocalPath exceeds the platform's sun_path limit", b.localPathVal, 0)
	}
	if (b.clientCertVal == "") != (b.clientKeyVal == "") {
		return nil, base.NewLogicalError("socket.Builder: ClientCert and ClientKey must be set together")
	}

	plain := newOutgoingPlainSocket(b)
	if !b.tlsVal {
		return plain, nil
	}
	return newTLSSocket(plain, b)
}
