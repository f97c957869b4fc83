package socket

import (
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// PlainSocket is a non-blocking TCP/Unix-domain socket: the
// original_source/event/socket.cc "BasicSocket". It implements Socket
// directly and is also what TLSSocket wraps.
type PlainSocket struct {
	loop    *eventloop.Loop
	log     *base.Logger
	watcher Watcher

	state State
	kind  Kind

	// Internet target, set when this socket resolves a hostname.
	host string
	port string

	// Local-domain target, set when connecting to a Unix socket path.
	localPath string

	resolveShared   *resolveShared
	resolveClientID eventloop.ClientId
	resolveTimer    eventloop.TimerId
	resolveTimeoutMs int

	addrs     []net.IPAddr
	addrIndex int

	connectTimer     eventloop.TimerId
	connectTimeoutMs int

	fd           int
	readWatched  bool
	writeWatched bool

	// remoteAddr is set only for accepted sockets, from the peer address
	// handed back by accept4. Empty for outgoing or local-domain sockets.
	remoteAddr string
}

// RemoteAddr returns the peer's address for an accepted socket, or "" if
// this socket did not come from a Listener (an outgoing connection) or is
// local-domain.
func (s *PlainSocket) RemoteAddr() string { return s.remoteAddr }

// newOutgoingPlainSocket builds a PlainSocket from Builder options and
// immediately places it in StateInitialized.
func newOutgoingPlainSocket(b *Builder) *PlainSocket {
	return &PlainSocket{
		loop:             b.loopVal,
		log:              b.logVal,
		watcher:          b.watcherVal,
		kind:             b.kindVal,
		host:             b.hostVal,
		port:             b.portVal,
		localPath:        b.localPathVal,
		resolveTimeoutMs: b.resolveTimeoutMsVal,
		connectTimeoutMs: b.connectTimeoutMsVal,
		fd:               -1,
	}
}

// wrapAcceptedFd builds an already-Open PlainSocket around an accepted
// descriptor, with no watcher set (the listener's watcher is told about
// it via Accepted(socket); the caller attaches a watcher afterwards).
func wrapAcceptedFd(loop *eventloop.Loop, log *base.Logger, fd int, remoteAddr string) *PlainSocket {
	return &PlainSocket{loop: loop, log: log, state: StateOpen, fd: fd, remoteAddr: remoteAddr}
}

// SetWatcher attaches (or replaces) the watcher; used after accepting.
func (s *PlainSocket) SetWatcher(w Watcher) { s.watcher = w }

// Start begins connecting. For an Internet socket this enters
// StateResolving; for a local-domain socket it skips straight to
// StateConnecting.
func (s *PlainSocket) Start() {
	base.Checkf(s.state == StateInitialized, "Start: socket not in initial state (%s)", s.state)
	if s.localPath != "" {
		s.state = StateConnecting
		addr, err := net.ResolveUnixAddr("unix", s.localPath)
		if err != nil {
			s.failConnect(base.NewLogicalError("invalid local path: " + err.Error()))
			return
		}
		_ = addr
		s.addrs = nil
		s.connectUnix()
		return
	}
	s.state = StateResolving
	s.startResolve()
}

func (s *PlainSocket) connectUnix() {
	fd, err := unix.Socket(unix.AF_UNIX, socketTypeFor(s.kind)|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		s.failConnect(base.NewSystemError("socket", toErrno(err)))
		return
	}
	s.fd = fd
	sa := &unix.SockaddrUnix{Name: s.localPath}
	s.armConnectTimeout()
	err = unix.Connect(fd, sa)
	s.handleConnectResult(err)
}

// connectNext tries the next address in the resolved list, advancing
// through the whole list before reporting ConnectionFailed, trying each
// address in order.
func (s *PlainSocket) connectNext() {
	for s.addrIndex < len(s.addrs) {
		addr := s.addrs[s.addrIndex]
		s.addrIndex++

		family := unix.AF_INET
		if addr.IP.To4() == nil {
			family = unix.AF_INET6
		}
		fd, err := unix.Socket(family, socketTypeFor(s.kind)|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			continue
		}
		s.fd = fd

		portNum, _ := strconv.Atoi(s.port)
		var sa unix.Sockaddr
		if family == unix.AF_INET {
			var a [4]byte
			copy(a[:], addr.IP.To4())
			sa = &unix.SockaddrInet4{Port: portNum, Addr: a}
		} else {
			var a [16]byte
			copy(a[:], addr.IP.To16())
			sa = &unix.SockaddrInet6{Port: portNum, Addr: a}
		}

		s.armConnectTimeout()
		err = unix.Connect(fd, sa)
		if s.handleConnectResult(err) {
			return
		}
	}
	s.failConnect(base.NewAddressError("connect: all addresses failed"))
}

// handleConnectResult returns true if the attempt is now pending or
// succeeded (caller should stop trying more addresses), false if this
// address failed outright and the caller should try the next one.
func (s *PlainSocket) handleConnectResult(err error) bool {
	if err == nil {
		s.cancelConnectTimer()
		s.openConnection()
		return true
	}
	if err == unix.EINPROGRESS {
		s.loop.WatchWrite(s.fd, s.onConnectWritable)
		s.writeWatched = true
		return true
	}
	unix.Close(s.fd)
	s.fd = -1
	s.cancelConnectTimer()
	return false
}

func (s *PlainSocket) armConnectTimeout() {
	s.connectTimer = s.loop.Delay(time.Duration(s.connectTimeoutMs)*time.Millisecond, s.connectTimeout)
}

func (s *PlainSocket) cancelConnectTimer() {
	s.loop.CancelTimer(s.connectTimer)
}

func (s *PlainSocket) connectTimeout() {
	if s.writeWatched {
		s.loop.WatchWrite(s.fd, nil)
		s.writeWatched = false
	}
	unix.Close(s.fd)
	s.fd = -1
	if s.localPath != "" {
		s.failConnect(base.NewSystemError("connect", syscall.ETIMEDOUT))
		return
	}
	s.connectNext()
}

// onConnectWritable fires when a pending non-blocking connect becomes
// writable; getsockopt(SO_ERROR) reveals success or the real errno.
func (s *PlainSocket) onConnectWritable(fd int) {
	s.loop.WatchWrite(fd, nil)
	s.writeWatched = false
	s.cancelConnectTimer()

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		unix.Close(fd)
		s.fd = -1
		if s.localPath != "" {
			s.failConnect(base.NewSystemError("connect", syscall.Errno(errno)))
			return
		}
		s.connectNext()
		return
	}
	s.openConnection()
}

func (s *PlainSocket) openConnection() {
	s.state = StateOpen
	if s.watcher != nil {
		s.watcher.ConnectionOpen()
	}
}

func (s *PlainSocket) failConnect(err error) {
	s.state = StateFailed
	if s.watcher != nil {
		s.watcher.ConnectionFailed(err)
	}
}

// WantRead toggles read readiness interest.
func (s *PlainSocket) WantRead(enabled bool) {
	if enabled == s.readWatched {
		return
	}
	s.readWatched = enabled
	if enabled {
		s.loop.WatchRead(s.fd, s.onReadable)
	} else {
		s.loop.WatchRead(s.fd, nil)
	}
}

// WantWrite toggles write readiness interest.
func (s *PlainSocket) WantWrite(enabled bool) {
	if enabled == s.writeWatched {
		return
	}
	s.writeWatched = enabled
	if enabled {
		s.loop.WatchWrite(s.fd, s.onWritable)
	} else {
		s.loop.WatchWrite(s.fd, nil)
	}
}

func (s *PlainSocket) onReadable(int) {
	if s.watcher != nil {
		s.watcher.CanRead()
	}
}

func (s *PlainSocket) onWritable(int) {
	if s.watcher != nil {
		s.watcher.CanWrite()
	}
}

// Read attempts a non-blocking read; would-block maps to ok(0).
func (s *PlainSocket) Read(buf []byte) base.IOResult {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return base.IOResultOk(0)
		}
		return base.IOResultError(base.NewSystemError("read", toErrno(err)))
	}
	if n == 0 {
		return base.IOResultEOF()
	}
	return base.IOResultOk(n)
}

// Write attempts a non-blocking write.
func (s *PlainSocket) Write(buf []byte) base.IOResult {
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return base.IOResultOk(0)
		}
		return base.IOResultError(base.NewSystemError("write", toErrno(err)))
	}
	return base.IOResultOk(n)
}

// SafeToRead always returns true for a plain socket.
func (s *PlainSocket) SafeToRead() bool { return true }

// SafeToWrite always returns true for a plain socket.
func (s *PlainSocket) SafeToWrite() bool { return true }

// Fd exposes the raw descriptor, for TLSSocket's use only.
func (s *PlainSocket) Fd() int { return s.fd }

// Close tears the socket down: cancels any resolution/connect timers,
// abandons in-flight resolution, deregisters from the loop, and closes
// the descriptor.
func (s *PlainSocket) Close() error {
	switch s.state {
	case StateResolving:
		s.abandonResolve()
	case StateConnecting:
		s.loop.CancelTimer(s.connectTimer)
		if s.writeWatched {
			s.loop.WatchWrite(s.fd, nil)
		}
	case StateOpen:
		if s.readWatched {
			s.loop.WatchRead(s.fd, nil)
		}
		if s.writeWatched {
			s.loop.WatchWrite(s.fd, nil)
		}
	}
	s.state = stateDestroyed
	if s.fd != -1 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}

func socketTypeFor(k Kind) int {
	switch k {
	case KindDatagram:
		return unix.SOCK_DGRAM
	case KindSeqpacket:
		return unix.SOCK_SEQPACKET
	default:
		return unix.SOCK_STREAM
	}
}

func toErrno(err error) syscall.Errno {
	if e, ok := err.(unix.Errno); ok {
		return syscall.Errno(e)
	}
	return 0
}
