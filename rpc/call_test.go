package rpc

import (
	"encoding/binary"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// fakeSocket is a minimal socket.Socket stand-in: Read serves bytes from a
// preloaded queue one chunk at a time, Write records everything handed to
// it, and Close just flags itself closed.
type fakeSocket struct {
	toRead [][]byte
	pos    int

	written []byte
	closed  bool
}

func (f *fakeSocket) Start()            {}
func (f *fakeSocket) WantRead(bool)     {}
func (f *fakeSocket) WantWrite(bool)    {}
func (f *fakeSocket) SafeToRead() bool  { return true }
func (f *fakeSocket) SafeToWrite() bool { return true }

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSocket) Read(buf []byte) base.IOResult {
	if f.pos >= len(f.toRead) {
		return base.IOResultOk(0)
	}
	chunk := f.toRead[f.pos]
	f.pos++
	n := copy(buf, chunk)
	return base.IOResultOk(n)
}

func (f *fakeSocket) Write(buf []byte) base.IOResult {
	f.written = append(f.written, buf...)
	return base.IOResultOk(len(buf))
}

func newTestLoop(t *testing.T) *eventloop.Loop {
	loop, err := eventloop.NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return loop
}

// echoEndpoint decodes each inbound wrapperspb.StringValue and immediately
// sends it straight back, the way a ping method would.
type echoEndpoint struct {
	received     []string
	closedErr    error
	closedCalled bool
}

func (e *echoEndpoint) Open(call *Call) proto.Message { return &wrapperspb.StringValue{} }

func (e *echoEndpoint) Receive(call *Call, msg proto.Message) {
	sv := msg.(*wrapperspb.StringValue)
	e.received = append(e.received, sv.Value)
	_ = call.Send(&wrapperspb.StringValue{Value: sv.Value})
}

func (e *echoEndpoint) Closed(call *Call, err error) {
	e.closedCalled = true
	e.closedErr = err
}

type fixedDispatcher struct {
	endpoint Endpoint
}

func (d fixedDispatcher) Dispatch(method uint32) (Endpoint, bool) {
	return d.endpoint, true
}

func frameMessage(msg proto.Message) []byte {
	body, err := proto.Marshal(msg)
	if err != nil {
		panic(err)
	}
	out := protowire.AppendVarint(nil, uint64(len(body)))
	return append(out, body...)
}

// TestCallRoundTripEchoesPayload mirrors the accepted-call path: a method
// header arrives, the dispatcher resolves an endpoint, and a single framed
// message is decoded and echoed straight back without a method header.
func TestCallRoundTripEchoesPayload(t *testing.T) {
	const kPing uint32 = 1

	req := &wrapperspb.StringValue{Value: "hello world"}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], kPing)
	frame := append(append([]byte{}, hdr[:]...), frameMessage(req)...)

	sock := &fakeSocket{toRead: [][]byte{frame}}
	loop := newTestLoop(t)
	set := NewSet()
	endpoint := &echoEndpoint{}

	call := newCall(loop, base.NopLogger(), sock, set)
	call.dispatcher = fixedDispatcher{endpoint: endpoint}
	call.state = StateDispatching

	call.CanRead()

	if call.Method() != kPing {
		t.Fatalf("method = %d, want %d", call.Method(), kPing)
	}
	if call.State() != StateReady {
		t.Fatalf("state = %v, want StateReady", call.State())
	}
	if len(endpoint.received) != 1 || endpoint.received[0] != "hello world" {
		t.Fatalf("endpoint received %v, want [\"hello world\"]", endpoint.received)
	}

	want := frameMessage(&wrapperspb.StringValue{Value: "hello world"})
	if string(sock.written) != string(want) {
		t.Fatalf("wrote %q, want %q", sock.written, want)
	}
}

// TestCallOverlongHeaderVarintCloses feeds ten continuation bytes with no
// terminator once the call is already decoding message bodies, which must
// close the call immediately rather than wait for an eleventh byte.
func TestCallOverlongHeaderVarintCloses(t *testing.T) {
	sock := &fakeSocket{toRead: [][]byte{
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80},
	}}
	loop := newTestLoop(t)
	set := NewSet()
	endpoint := &echoEndpoint{}

	call := newCall(loop, base.NopLogger(), sock, set)
	call.endpoint = endpoint
	call.target = endpoint.Open(call)
	call.state = StateReady

	call.CanRead()

	if call.State() != StateClosed {
		t.Fatalf("state = %v, want StateClosed", call.State())
	}
	if !sock.closed {
		t.Fatal("expected the socket to be closed")
	}
}

// TestCallMalformedBodyCloses feeds a well-formed length prefix whose body
// does not decode as the target message type; the call must close without
// ever reaching endpoint.Receive.
func TestCallMalformedBodyCloses(t *testing.T) {
	body := []byte{0xff, 0xff, 0xff} // invalid varint tag stream
	frame := append(protowire.AppendVarint(nil, uint64(len(body))), body...)

	sock := &fakeSocket{toRead: [][]byte{frame}}
	loop := newTestLoop(t)
	set := NewSet()
	endpoint := &echoEndpoint{}

	call := newCall(loop, base.NopLogger(), sock, set)
	call.endpoint = endpoint
	call.target = endpoint.Open(call)
	call.state = StateReady

	call.CanRead()

	if call.State() != StateClosed {
		t.Fatalf("state = %v, want StateClosed", call.State())
	}
	if len(endpoint.received) != 0 {
		t.Fatalf("endpoint should not have received a malformed message, got %v", endpoint.received)
	}
}

// TestSendOutsideConnectingOrReadyErrors checks Send's state guard.
func TestSendOutsideConnectingOrReadyErrors(t *testing.T) {
	sock := &fakeSocket{}
	loop := newTestLoop(t)
	set := NewSet()

	call := newCall(loop, base.NopLogger(), sock, set)
	call.state = StateDispatching

	if err := call.Send(&wrapperspb.StringValue{Value: "x"}); err == nil {
		t.Fatal("expected Send to fail outside Connecting/Ready")
	}
}

// TestCloseWithoutFlushIsImmediate checks that closing with flush=false
// finalizes synchronously even with a non-empty write buffer.
func TestCloseWithoutFlushIsImmediate(t *testing.T) {
	sock := &fakeSocket{}
	loop := newTestLoop(t)
	set := NewSet()
	endpoint := &echoEndpoint{}

	call := newCall(loop, base.NopLogger(), sock, set)
	call.endpoint = endpoint
	call.state = StateReady
	_ = call.queue(&wrapperspb.StringValue{Value: "buffered"})

	call.Close(nil, false)

	if call.State() != StateClosed {
		t.Fatalf("state = %v, want StateClosed", call.State())
	}
	if !sock.closed {
		t.Fatal("expected the socket to be closed")
	}
}
