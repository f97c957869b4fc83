// Package eventloop implements the reactor at the bottom of the core: a
// single-threaded multiplexer of file-descriptor readiness, timers,
// signals, and cross-thread wakeups ("client events"). Everything else in
// this module — sockets, the IRC connection, the RPC transport — is a
// client of one Loop.
//
// Grounded on the teacher's reactor/epoll_reactor.go (epoll usage style)
// and original_source/event/loop.{h,cc} (the semantics: watch/unwatch,
// timer wheel, signal multiplexing, client-event pipe, finisher queue).
package eventloop

import (
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
)

// FDHandler is called when a watched descriptor becomes ready in the
// direction it was registered for.
type FDHandler func(fd int)

type fdState struct {
	read       FDHandler
	write      FDHandler
	epollAdded bool
}

// Loop is a single-threaded reactor. All methods except PostClientEvent
// must only be called from the goroutine running Poll/Run.
type Loop struct {
	log *base.Logger

	epfd int
	fds  map[int]*fdState

	timers  *timerWheel
	timerFd int

	signals   map[int][]signalEntry
	nextSigID int
	sigCh     chan os.Signal
	sigPipeR  int
	sigPipeW  int
	sigPipeMu sync.Mutex

	clients         *base.Registry[func(ClientData)]
	clientPipeR     int
	clientPipeW     int
	clientPipeMu    sync.Mutex // guards writes from other goroutines
	readClientBuf   []byte
	pendingPointers []any
	pointersMu      sync.Mutex

	finishers *queue.Queue

	stop bool
}

type signalEntry struct {
	id      int
	handler func(signo int)
}

// SignalId identifies a registered signal handler for RemoveSignal.
type SignalId struct {
	signo int
	id    int
}

// ClientId identifies a registered client-event handler.
type ClientId = base.Handle

// ClientData is the payload carried by a posted client event: a small
// fixed-size record, matching the original's pipe-serialised union.
type ClientData struct {
	Int     int64
	Pointer any
}

// NewLoop constructs a Loop backed by epoll. log may be nil, in which
// case a no-op logger is used.
func NewLoop(log *base.Logger) (*Loop, error) {
	if log == nil {
		log = base.NopLogger()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, base.NewSystemError("epoll_create1", toErrno(err))
	}

	l := &Loop{
		log:           log,
		epfd:          epfd,
		fds:           make(map[int]*fdState),
		signals:       make(map[int][]signalEntry),
		clients:       base.NewRegistry[func(ClientData)](),
		finishers:     queue.New(),
		readClientBuf: make([]byte, clientEventRecordSize),
		clientPipeR:   -1,
		clientPipeW:   -1,
		sigPipeR:      -1,
		sigPipeW:      -1,
	}

	timers, timerFd, err := newTimerWheel(l)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	l.timers = timers
	l.timerFd = timerFd
	l.WatchRead(timerFd, l.readTimer)

	l.AddSignal(int(syscall.SIGTERM), func(int) { l.Stop() })

	return l, nil
}

func toErrno(err error) syscall.Errno {
	if e, ok := err.(unix.Errno); ok {
		return syscall.Errno(e)
	}
	return 0
}

// WatchRead enables (handler != nil) or disables (handler == nil) read
// readiness notification for fd. Enabling an already-enabled direction,
// or disabling an inactive one, is a programmer error.
func (l *Loop) WatchRead(fd int, handler FDHandler) {
	st := l.fdStateFor(fd)
	if handler != nil {
		base.Checkf(st.read == nil, "WatchRead: fd %d already watched for read", fd)
		st.read = handler
	} else {
		base.Checkf(st.read != nil, "WatchRead: fd %d not watched for read", fd)
		st.read = nil
	}
	l.syncEpoll(fd, st)
}

// WatchWrite enables or disables write readiness notification for fd.
func (l *Loop) WatchWrite(fd int, handler FDHandler) {
	st := l.fdStateFor(fd)
	if handler != nil {
		base.Checkf(st.write == nil, "WatchWrite: fd %d already watched for write", fd)
		st.write = handler
	} else {
		base.Checkf(st.write != nil, "WatchWrite: fd %d not watched for write", fd)
		st.write = nil
	}
	l.syncEpoll(fd, st)
}

func (l *Loop) fdStateFor(fd int) *fdState {
	st, ok := l.fds[fd]
	if !ok {
		st = &fdState{}
		l.fds[fd] = st
	}
	return st
}

func (l *Loop) syncEpoll(fd int, st *fdState) {
	if st.read == nil && st.write == nil {
		delete(l.fds, fd)
		if st.epollAdded {
			_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		}
		return
	}

	var events uint32
	if st.read != nil {
		events |= unix.EPOLLIN
	}
	if st.write != nil {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}

	if st.epollAdded {
		_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	} else {
		_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		st.epollAdded = true
	}
}

// AddFinishable schedules handler to run exactly once, after the current
// Poll round's I/O callbacks finish and before the loop blocks again.
func (l *Loop) AddFinishable(handler func()) {
	l.finishers.Add(handler)
}

// Stop requests that Run return after the current Poll completes.
// NewLoop registers a default SIGTERM handler that calls this.
func (l *Loop) Stop() { l.stop = true }

// Run polls until Stop is called.
func (l *Loop) Run() error {
	for !l.stop {
		if err := l.Poll(); err != nil {
			return err
		}
	}
	return nil
}

const maxEpollEvents = 256

// Poll blocks until at least one event is ready (or a timer/signal fires),
// dispatches it, then drains the finisher queue.
func (l *Loop) Poll() error {
	base.Checkf(len(l.fds) > 0, "Poll: no descriptors registered")

	var events [maxEpollEvents]unix.EpollEvent
	n, err := unix.EpollWait(l.epfd, events[:], -1)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return base.NewSystemError("epoll_wait", toErrno(err))
	}

	type ready struct {
		fd    int
		write bool
	}
	var readyList []ready
	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Fd)
		if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			readyList = append(readyList, ready{fd: fd, write: false})
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			readyList = append(readyList, ready{fd: fd, write: true})
		}
	}
	sort.Slice(readyList, func(i, j int) bool {
		if readyList[i].fd != readyList[j].fd {
			return readyList[i].fd < readyList[j].fd
		}
		return !readyList[i].write && readyList[j].write
	})

	for _, r := range readyList {
		st, ok := l.fds[r.fd]
		if !ok {
			continue // deregistered by an earlier callback this round
		}
		if r.write {
			if h := st.write; h != nil {
				h(r.fd)
			}
		} else {
			if h := st.read; h != nil {
				h(r.fd)
			}
		}
	}

	l.drainFinishers()
	return nil
}

func (l *Loop) drainFinishers() {
	for l.finishers.Length() > 0 {
		fn := l.finishers.Peek().(func())
		l.finishers.Remove()
		fn()
	}
}
