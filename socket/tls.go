package socket

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// tlsPendingOp names which operation, if any, is currently in flight on
// the TLS connection's own goroutines. crypto/tls drives its handshake
// and any mid-stream renegotiation by blocking the calling goroutine, so
// unlike the original's want-read/want-write BIO cycle this is tracked
// only for SafeToRead/SafeToWrite's benefit: once the handshake settles,
// the library's own locking lets concurrent Read and Write proceed.
type tlsPendingOp int

const (
	tlsOpNone tlsPendingOp = iota
	tlsOpHandshake
)

// TLSSocket wraps a PlainSocket's connect/resolve state machine with a
// TLS session. Grounded on original_source/event/socket.h's description
// of the TLS wrapper as "itself a Socket" sitting above a plain one; the
// want-read/want-write translation described there is specific to an
// OpenSSL-style BIO and has no equivalent in crypto/tls, which instead
// blocks the calling goroutine through a handshake or record read/write.
// The translation here is therefore: run the handshake and the
// connection's two directions on dedicated goroutines (never the loop's
// own goroutine), and bridge their progress back to the loop through
// mutex-guarded state plus posted client events, the same mechanism the
// resolver uses to bridge DNS lookups.
type TLSSocket struct {
	plain   *PlainSocket
	watcher Watcher
	cfg     *tls.Config

	loop     *eventloop.Loop
	clientID eventloop.ClientId

	conn *tls.Conn

	mu       sync.Mutex
	state    State
	pending  tlsPendingOp
	readBuf  *base.RingBuffer
	readEOF  bool
	readErr  error
	writeErr error

	wantRead  bool
	wantWrite bool

	writeCh chan []byte
	doneCh  chan struct{}
}

const tlsReadBufferCap = 64 * 1024
const tlsWriteQueueDepth = 256

// newTLSSocket builds a TLSSocket around plain, stealing plain's watcher
// slot so that plain's ConnectionOpen/ConnectionFailed route through the
// TLS handshake first.
func newTLSSocket(plain *PlainSocket, b *Builder) (*TLSSocket, error) {
	cfg := &tls.Config{ServerName: b.hostVal}
	if b.clientCertVal != "" {
		cert, err := tls.LoadX509KeyPair(b.clientCertVal, b.clientKeyVal)
		if err != nil {
			return nil, base.NewTLSError("load client certificate: "+err.Error(), 0, nil)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	t := &TLSSocket{
		plain:   plain,
		watcher: b.watcherVal,
		cfg:     cfg,
		loop:    b.loopVal,
		readBuf: base.NewRingBuffer(tlsReadBufferCap),
		writeCh: make(chan []byte, tlsWriteQueueDepth),
		doneCh:  make(chan struct{}),
	}
	t.clientID = t.loop.AddClient(t.onEvent)
	plain.SetWatcher(t)
	return t, nil
}

// Start delegates to the wrapped plain socket; the TLS handshake begins
// once it reports ConnectionOpen.
func (t *TLSSocket) Start() { t.plain.Start() }

// ConnectionOpen implements socket.Watcher for the wrapped plain socket.
func (t *TLSSocket) ConnectionOpen() {
	t.mu.Lock()
	t.state = StateConnecting
	t.pending = tlsOpHandshake
	t.mu.Unlock()

	fd, err := unix.Dup(t.plain.Fd())
	if err != nil {
		t.reportFailed(base.NewSystemError("dup", toErrno(err)))
		return
	}
	raw, err := net.FileConn(os.NewFile(uintptr(fd), ""))
	if err != nil {
		unix.Close(fd)
		t.reportFailed(base.NewTLSError("wrap socket: "+err.Error(), 0, nil))
		return
	}

	t.conn = tls.Client(raw, t.cfg)
	go t.handshakeAndRun()
}

// ConnectionFailed implements socket.Watcher for the wrapped plain socket.
func (t *TLSSocket) ConnectionFailed(err error) {
	t.reportFailed(err)
}

func (t *TLSSocket) handshakeAndRun() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.conn.HandshakeContext(ctx); err != nil {
		t.conn.Close()
		t.reportFailed(base.NewTLSError("handshake: "+err.Error(), 0, nil))
		return
	}

	t.mu.Lock()
	t.state = StateOpen
	t.pending = tlsOpNone
	t.mu.Unlock()
	t.loop.PostClientEvent(t.clientID, eventloop.ClientData{Int: int64(tlsEventOpen)})

	go t.readLoop()
	go t.writeLoop()
}

func (t *TLSSocket) reportFailed(err error) {
	t.mu.Lock()
	t.state = StateFailed
	t.mu.Unlock()
	t.loop.PostClientEvent(t.clientID, eventloop.ClientData{Pointer: err, Int: int64(tlsEventFailed)})
}

type tlsEventKind int64

const (
	tlsEventOpen tlsEventKind = iota
	tlsEventFailed
	tlsEventReadable
	tlsEventWriteErr
)

// onEvent runs on the loop goroutine, dispatching bridge events posted
// by the handshake/read/write goroutines to the outward Watcher.
func (t *TLSSocket) onEvent(data eventloop.ClientData) {
	switch tlsEventKind(data.Int) {
	case tlsEventOpen:
		if t.watcher != nil {
			t.watcher.ConnectionOpen()
		}
	case tlsEventFailed:
		err, _ := data.Pointer.(error)
		if t.watcher != nil {
			t.watcher.ConnectionFailed(err)
		}
	case tlsEventReadable:
		if t.wantRead && t.watcher != nil {
			t.watcher.CanRead()
		}
	case tlsEventWriteErr:
		if t.wantWrite && t.watcher != nil {
			t.watcher.CanWrite()
		}
	}
}

// readLoop blocks on conn.Read, matching the documented guarantee that
// tls.Conn's Read and Write may be called concurrently from different
// goroutines. It never touches the loop goroutine directly.
func (t *TLSSocket) readLoop() {
	scratch := make([]byte, 16*1024)
	for {
		n, err := t.conn.Read(scratch)
		if n > 0 {
			t.mu.Lock()
			t.readBuf.Write(scratch[:n])
			t.mu.Unlock()
			t.loop.PostClientEvent(t.clientID, eventloop.ClientData{Int: int64(tlsEventReadable)})
		}
		if err != nil {
			t.mu.Lock()
			if err == io.EOF {
				t.readEOF = true
			} else {
				t.readErr = err
			}
			t.mu.Unlock()
			t.loop.PostClientEvent(t.clientID, eventloop.ClientData{Int: int64(tlsEventReadable)})
			return
		}
	}
}

// writeLoop drains queued writes in order. A partial tls.Conn.Write is
// impossible to observe without an error (the library retries internally
// up to the record layer), so each queued chunk is written in full or
// the connection is reported broken.
func (t *TLSSocket) writeLoop() {
	for {
		select {
		case chunk, ok := <-t.writeCh:
			if !ok {
				return
			}
			if _, err := t.conn.Write(chunk); err != nil {
				t.mu.Lock()
				t.writeErr = err
				t.mu.Unlock()
				t.loop.PostClientEvent(t.clientID, eventloop.ClientData{Int: int64(tlsEventWriteErr)})
				return
			}
		case <-t.doneCh:
			return
		}
	}
}

// WantRead toggles read readiness interest; a CanRead delivery may arrive
// immediately afterward if data is already buffered.
func (t *TLSSocket) WantRead(enabled bool) {
	t.wantRead = enabled
	if enabled {
		t.mu.Lock()
		has := t.readBuf.Len() > 0 || t.readEOF || t.readErr != nil
		t.mu.Unlock()
		if has {
			t.loop.AddFinishable(func() {
				if t.wantRead && t.watcher != nil {
					t.watcher.CanRead()
				}
			})
		}
	}
}

// WantWrite toggles write readiness interest.
func (t *TLSSocket) WantWrite(enabled bool) {
	t.wantWrite = enabled
	if enabled {
		t.loop.AddFinishable(func() {
			if t.wantWrite && t.watcher != nil {
				t.watcher.CanWrite()
			}
		})
	}
}

// Read drains decrypted bytes already delivered by the read goroutine.
func (t *TLSSocket) Read(buf []byte) base.IOResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readBuf.Len() > 0 {
		n := min(len(buf), t.readBuf.Len())
		t.readBuf.Read(buf[:n])
		return base.IOResultOk(n)
	}
	if t.readErr != nil {
		return base.IOResultError(base.NewTLSError("read: "+t.readErr.Error(), 0, nil))
	}
	if t.readEOF {
		return base.IOResultEOF()
	}
	return base.IOResultOk(0)
}

// Write enqueues buf for the write goroutine. As required for a TLS
// socket, a zero return means the caller must retry with the identical
// slice contents next time.
func (t *TLSSocket) Write(buf []byte) base.IOResult {
	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return base.IOResultError(base.NewTLSError("write: "+err.Error(), 0, nil))
	}
	t.mu.Unlock()

	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case t.writeCh <- cp:
		return base.IOResultOk(len(buf))
	default:
		return base.IOResultOk(0)
	}
}

// SafeToRead reports whether a read can be initiated without disturbing
// a pending handshake.
func (t *TLSSocket) SafeToRead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending == tlsOpNone
}

// SafeToWrite reports whether a write can be initiated without
// disturbing a pending handshake.
func (t *TLSSocket) SafeToWrite() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending == tlsOpNone
}

// Close tears down the TLS session and the underlying plain socket.
func (t *TLSSocket) Close() error {
	close(t.doneCh)
	if t.conn != nil {
		t.conn.Close()
	}
	t.loop.RemoveClient(t.clientID)
	return t.plain.Close()
}

// CanRead and CanWrite satisfy socket.Watcher for the wrapped plain
// socket, which never actually watches its fd through the loop once a
// TLS session has taken over that descriptor directly.
func (t *TLSSocket) CanRead()  {}
func (t *TLSSocket) CanWrite() {}
