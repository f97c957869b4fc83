package socket

import (
	"testing"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// recordingWatcher counts ConnectionOpen/ConnectionFailed deliveries and
// stops the loop the first time either fires, so the test's call to
// loop.Run() returns as soon as the outcome is known.
type recordingWatcher struct {
	loop        *eventloop.Loop
	openedCount int
	failedCount int
	lastFailErr error
}

func (w *recordingWatcher) ConnectionOpen() {
	w.openedCount++
	w.loop.Stop()
}

func (w *recordingWatcher) ConnectionFailed(err error) {
	w.failedCount++
	w.lastFailErr = err
	w.loop.Stop()
}

func (w *recordingWatcher) CanRead()  {}
func (w *recordingWatcher) CanWrite() {}

type ignoringListenerWatcher struct{}

func (ignoringListenerWatcher) Accepted(sock *PlainSocket) { sock.Close() }
func (ignoringListenerWatcher) AcceptError(err error)      {}

// TestOutgoingConnectSucceedsExactlyOnce exercises the happy path of the
// outgoing state machine against a real loopback listener: Start leads to
// exactly one ConnectionOpen and never a ConnectionFailed.
func TestOutgoingConnectSucceedsExactlyOnce(t *testing.T) {
	loop, err := eventloop.NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	listener, err := ListenTCP(loop, base.NopLogger(), ignoringListenerWatcher{}, "127.0.0.1", "18765")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer listener.Close()

	w := &recordingWatcher{loop: loop}
	sock, err := NewBuilder().Loop(loop).Watcher(w).Host("127.0.0.1").Port("18765").
		ConnectTimeoutMs(2000).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sock.Start()

	if err := loop.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if w.openedCount != 1 {
		t.Fatalf("ConnectionOpen fired %d times, want exactly 1", w.openedCount)
	}
	if w.failedCount != 0 {
		t.Fatalf("ConnectionFailed fired %d times, want 0 (err=%v)", w.failedCount, w.lastFailErr)
	}
}

// TestOutgoingConnectRefusedReachesFailed exercises the failure path: a
// loopback address with nothing listening must deliver ConnectionFailed,
// and only ConnectionFailed.
func TestOutgoingConnectRefusedReachesFailed(t *testing.T) {
	loop, err := eventloop.NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	// A throwaway listener; it is not the connect target (port 1 is).
	// Poll's "at least one descriptor" check is already met by the
	// loop's own timer descriptor.
	listener, err := ListenTCP(loop, base.NopLogger(), ignoringListenerWatcher{}, "127.0.0.1", "18766")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer listener.Close()

	w := &recordingWatcher{loop: loop}
	sock, err := NewBuilder().Loop(loop).Watcher(w).Host("127.0.0.1").Port("1").
		ConnectTimeoutMs(2000).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sock.Start()

	if err := loop.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if w.failedCount != 1 {
		t.Fatalf("ConnectionFailed fired %d times, want exactly 1", w.failedCount)
	}
	if w.openedCount != 0 {
		t.Fatalf("ConnectionOpen fired %d times, want 0", w.openedCount)
	}
}
