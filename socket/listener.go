package socket

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// ListenerWatcher receives accepted sockets and accept-time errors.
type ListenerWatcher interface {
	// Accepted is called with each newly accepted, already-open socket.
	// It carries no watcher yet; the caller must attach one before
	// enabling read/write interest.
	Accepted(sock *PlainSocket)
	// AcceptError is called for any accept(2) failure other than
	// would-block, which is silently ignored.
	AcceptError(err error)
}

// Listener creates, binds, and listens a socket, accepting connections
// as they arrive and handing each off as an already-open PlainSocket.
type Listener struct {
	loop    *eventloop.Loop
	log     *base.Logger
	watcher ListenerWatcher
	fd      int
}

// ListenTCP binds and listens on host:port (host may be empty for all
// interfaces) and registers for readiness on loop.
func ListenTCP(loop *eventloop.Loop, log *base.Logger, watcher ListenerWatcher, host, port string) (*Listener, error) {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, base.NewLogicalError("listen: invalid port " + port)
	}

	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, base.NewSystemError("socket", toErrno(err))
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	var addr [16]byte
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			unix.Close(fd)
			return nil, base.NewLogicalError("listen: invalid host " + host)
		}
		copy(addr[:], ip.To16())
	}
	sa := &unix.SockaddrInet6{Port: portNum, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, base.NewSystemError("bind", toErrno(err))
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, base.NewSystemError("listen", toErrno(err))
	}

	l := &Listener{loop: loop, log: log, watcher: watcher, fd: fd}
	loop.WatchRead(fd, l.onAcceptReady)
	return l, nil
}

// ListenUnix binds and listens on a local-domain socket path.
func ListenUnix(loop *eventloop.Loop, log *base.Logger, watcher ListenerWatcher, path string) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, base.NewSystemError("socket", toErrno(err))
	}
	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, base.NewPathError("bind", path, toErrno(err))
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, base.NewSystemError("listen", toErrno(err))
	}

	l := &Listener{loop: loop, log: log, watcher: watcher, fd: fd}
	loop.WatchRead(fd, l.onAcceptReady)
	return l, nil
}

// onAcceptReady drains every pending connection; accept-would-block ends
// the loop silently, any other error is reported once via AcceptError.
func (l *Listener) onAcceptReady(int) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if l.watcher != nil {
				l.watcher.AcceptError(base.NewSystemError("accept4", toErrno(err)))
			}
			return
		}
		sock := wrapAcceptedFd(l.loop, l.log, fd, peerAddrString(sa))
		if l.watcher != nil {
			l.watcher.Accepted(sock)
		}
	}
}

// peerAddrString renders an accept4 peer sockaddr as a bare IP (no port),
// the granularity the RPC server's per-client admission limit groups on.
// Unix-domain peers (unnamed) yield "".
func peerAddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	default:
		return ""
	}
}

// Close stops accepting and closes the listening descriptor.
func (l *Listener) Close() error {
	l.loop.WatchRead(l.fd, nil)
	return unix.Close(l.fd)
}
