package eventloop

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
)

// AddSignal registers handler to run (on the loop's goroutine) whenever
// signo is delivered to the process. Multiple handlers per signal are
// allowed. The signal is only actually caught by the process (via
// os/signal, the Go analogue of the original's signalfd + sigprocmask)
// while at least one handler is registered.
func (l *Loop) AddSignal(signo int, handler func(signo int)) SignalId {
	l.ensureSignalPipe()

	_, hadAny := l.signals[signo]
	id := l.nextSigID
	l.nextSigID++
	l.signals[signo] = append(l.signals[signo], signalEntry{id: id, handler: handler})

	if !hadAny {
		signal.Notify(l.sigCh, syscall.Signal(signo))
	}
	return SignalId{signo: signo, id: id}
}

// RemoveSignal unregisters a handler previously returned by AddSignal. If
// it was the last handler for that signal, the process stops catching it.
func (l *Loop) RemoveSignal(id SignalId) {
	entries := l.signals[id.signo]
	for i, e := range entries {
		if e.id == id.id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(l.signals, id.signo)
		signal.Reset(syscall.Signal(id.signo))
	} else {
		l.signals[id.signo] = entries
	}
}

func (l *Loop) ensureSignalPipe() {
	if l.sigPipeR != -1 {
		return
	}
	var p [2]int
	if err := pipe2NonBlocking(&p); err != nil {
		l.log.Fatal("signal self-pipe creation failed", err)
	}
	l.sigPipeR, l.sigPipeW = p[0], p[1]
	l.sigCh = make(chan os.Signal, 16)
	go l.relaySignals()
	l.WatchRead(l.sigPipeR, l.readSignalPipe)
}

func (l *Loop) relaySignals() {
	for sig := range l.sigCh {
		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		b := [1]byte{byte(s)}
		l.sigPipeMu.Lock()
		_, _ = unix.Write(l.sigPipeW, b[:])
		l.sigPipeMu.Unlock()
	}
}

// readSignalPipe drains every pending signal byte before returning, per
// the guarantee that signals are drained to empty before returning.
func (l *Loop) readSignalPipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
		for _, b := range buf[:n] {
			signo := int(b)
			for _, e := range l.signals[signo] {
				e.handler(signo)
			}
		}
	}
}

func pipe2NonBlocking(p *[2]int) error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return base.NewSystemError("pipe2", toErrno(err))
	}
	p[0], p[1] = fds[0], fds[1]
	return nil
}
