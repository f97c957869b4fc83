// Package rpc implements the length-delimited protobuf call transport
// layered on top of the socket package: one Call per connection, each
// carrying an initial 4-byte little-endian method code followed by a
// varint-length-prefixed stream of protobuf messages in either
// direction.
//
// Grounded on the socket package's own Watcher/IOResult contract and on
// the teacher's reactor-client style; there is no equivalent module in
// original_source, so the call lifecycle (Connecting/Dispatching/Ready/
// Flushing/Closed) is built directly from this system's own data model.
package rpc

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/socket"
)

// maxHeaderVarintLen is the largest a protobuf unsigned varint may be
// (ceil(64/7)); a header that doesn't terminate within this many bytes
// is treated as corrupt.
const maxHeaderVarintLen = 10

// readChunkCap bounds bytes consumed from the socket per wake, so one
// very chatty call cannot starve the rest of the loop.
const readChunkCap = 64 * 1024

// State is a Call's lifecycle.
type State int

const (
	StateConnecting State = iota
	StateDispatching
	StateReady
	StateFlushing
	StateClosed
)

// Endpoint is the per-call handler on either side of an RPC connection.
type Endpoint interface {
	// Open is called once the call reaches Ready. It returns a fresh
	// message instance that subsequent frames decode into.
	Open(call *Call) proto.Message
	// Receive is called once per fully decoded frame, reusing the
	// message instance returned by Open.
	Receive(call *Call, msg proto.Message)
	// Closed is called exactly once when the call finalizes, whether
	// cleanly or with err set.
	Closed(call *Call, err error)
}

// Set is a registry of live calls, owned by either a Server or a
// Client, used for bulk shutdown. Per-remote admission counting is kept
// separately by Server.
type Set struct {
	calls map[*Call]struct{}
}

// NewSet returns an empty call set.
func NewSet() *Set { return &Set{calls: make(map[*Call]struct{})} }

// Len reports the number of live calls in the set.
func (s *Set) Len() int { return len(s.calls) }

func (s *Set) add(c *Call)    { s.calls[c] = struct{}{} }
func (s *Set) remove(c *Call) { delete(s.calls, c) }

// CloseAll closes every call in the set without flushing, for shutdown.
func (s *Set) CloseAll() {
	for c := range s.calls {
		c.Close(nil, false)
	}
}

// Call is one RPC connection: one socket, one read and one write ring
// buffer, one endpoint, and the decode state needed to turn a byte
// stream into a sequence of protobuf messages.
type Call struct {
	loop *eventloop.Loop
	log  *base.Logger
	sock socket.Socket
	set  *Set

	method     uint32
	endpoint   Endpoint
	target     proto.Message
	dispatcher Dispatcher

	state State

	readBuf    *base.RingBuffer
	writeBuf   *base.RingBuffer
	pendingLen int // -1 until a header varint has been fully parsed
	scratch    []byte

	closeErr error

	// onFinalize, if set, runs synchronously inside finalize regardless
	// of whether an endpoint was ever dispatched. The server admission
	// limiter uses it to release a call's slot in its per-remote count
	// even for a connection that never sent a complete method header.
	onFinalize func()
}

func newCall(loop *eventloop.Loop, log *base.Logger, sock socket.Socket, set *Set) *Call {
	c := &Call{
		loop:       loop,
		log:        log,
		sock:       sock,
		set:        set,
		readBuf:    base.NewRingBuffer(4096),
		writeBuf:   base.NewRingBuffer(4096),
		pendingLen: -1,
	}
	set.add(c)
	return c
}

// newPendingCall builds a Call whose socket does not exist yet, for the
// client path: the Call itself must be handed to socket.Builder.Watcher
// before the socket it will own can be constructed.
func newPendingCall(loop *eventloop.Loop, log *base.Logger, set *Set) *Call {
	c := &Call{
		loop:       loop,
		log:        log,
		set:        set,
		readBuf:    base.NewRingBuffer(4096),
		writeBuf:   base.NewRingBuffer(4096),
		pendingLen: -1,
	}
	set.add(c)
	return c
}

// Method returns the 4-byte method code this call was opened with.
func (c *Call) Method() uint32 { return c.method }

// State reports the call's current lifecycle state.
func (c *Call) State() State { return c.state }

// Send serialises msg behind a varint length prefix and queues it for
// transmission. Valid in Connecting or Ready.
func (c *Call) Send(msg proto.Message) error {
	if c.state != StateConnecting && c.state != StateReady {
		return base.NewLogicalError("rpc: Send called outside Connecting/Ready")
	}
	if err := c.queue(msg); err != nil {
		return err
	}
	if c.state == StateReady {
		c.flush()
	}
	return nil
}

// queue serialises msg behind a varint length prefix into the write
// buffer without attempting a flush, for priming a call's outgoing
// buffer before its socket has started connecting.
func (c *Call) queue(msg proto.Message) error {
	body, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	header := protowire.AppendVarint(nil, uint64(len(body)))
	c.writeBuf.Write(header)
	c.writeBuf.Write(body)
	return nil
}

// ConnectionOpen implements socket.Watcher for client-constructed calls.
func (c *Call) ConnectionOpen() {
	c.flush()
	c.state = StateReady
	c.target = c.endpoint.Open(c)
	c.sock.WantRead(true)
}

// ConnectionFailed implements socket.Watcher for client-constructed
// calls.
func (c *Call) ConnectionFailed(err error) {
	c.finalize(err)
}

// CanRead implements socket.Watcher.
func (c *Call) CanRead() {
	if c.scratch == nil {
		c.scratch = make([]byte, readChunkCap)
	}
	scratch := c.scratch
	consumed := 0
	for consumed < readChunkCap {
		ret := c.sock.Read(scratch)
		if ret.Failed() {
			c.Close(ret.Err, false)
			return
		}
		if ret.AtEOF() {
			c.Close(nil, true)
			return
		}
		if ret.Size == 0 {
			break
		}
		c.readBuf.Write(scratch[:ret.Size])
		consumed += ret.Size
		if !c.processReadBuf() {
			return
		}
		if ret.Size < len(scratch) {
			break
		}
	}
}

// processReadBuf drains as many complete frames (or the dispatch header)
// as are currently buffered. It returns false if the call was closed
// while processing, signalling the caller to stop touching it.
func (c *Call) processReadBuf() bool {
	if c.state == StateDispatching {
		if c.readBuf.Len() < 4 {
			return true
		}
		var hdr [4]byte
		head, tail := c.readBuf.Front(4)
		copy(hdr[:], head)
		copy(hdr[len(head):], tail)
		c.readBuf.Pop(4)
		c.method = binary.LittleEndian.Uint32(hdr[:])

		if c.dispatcher == nil {
			c.Close(base.NewLogicalError("rpc: call has no dispatcher"), false)
			return false
		}
		endpoint, ok := c.dispatcher.Dispatch(c.method)
		if !ok {
			c.Close(base.NewLogicalError("rpc: unknown method code"), false)
			return false
		}
		c.endpoint = endpoint
		c.target = c.endpoint.Open(c)
		c.state = StateReady
	}

	for c.state == StateReady {
		if c.pendingLen < 0 {
			v, n, ok, overlong := peekVarint(c.readBuf)
			if overlong {
				c.Close(base.NewLogicalError("rpc: header varint too long"), false)
				return false
			}
			if !ok {
				return true
			}
			c.readBuf.Pop(n)
			c.pendingLen = int(v)
		}

		if c.readBuf.Len() < c.pendingLen {
			return true
		}

		body := make([]byte, c.pendingLen)
		c.readBuf.Read(body)
		c.pendingLen = -1

		proto.Reset(c.target)
		if err := proto.Unmarshal(body, c.target); err != nil {
			c.Close(err, false)
			return false
		}
		c.endpoint.Receive(c, c.target)
	}
	return true
}

// CanWrite implements socket.Watcher.
func (c *Call) CanWrite() { c.flush() }

func (c *Call) flush() {
	if c.writeBuf.Empty() {
		c.sock.WantWrite(false)
		if c.state == StateFlushing {
			c.finalize(c.closeErr)
		}
		return
	}
	if !c.sock.SafeToWrite() {
		return
	}

	head, tail := c.writeBuf.Front(c.writeBuf.Len())
	wrote := 0
	for _, slice := range [][]byte{head, tail} {
		if len(slice) == 0 {
			continue
		}
		ret := c.sock.Write(slice)
		if ret.Failed() {
			c.Close(ret.Err, false)
			return
		}
		wrote += ret.Size
		if ret.Size != len(slice) {
			break
		}
	}
	if wrote > 0 {
		c.writeBuf.Pop(wrote)
	}

	if !c.writeBuf.Empty() {
		c.sock.WantWrite(true)
		return
	}
	c.sock.WantWrite(false)
	if c.state == StateFlushing {
		c.finalize(c.closeErr)
	}
}

// Close begins an orderly (flush=true) or immediate (flush=false)
// shutdown. err, if non-nil, is reported to the endpoint and forces an
// immediate shutdown regardless of flush.
func (c *Call) Close(err error, flush bool) {
	if c.state == StateClosed {
		return
	}
	if c.state == StateFlushing {
		if err != nil {
			c.finalize(err)
		}
		return
	}
	if err != nil || !flush || c.writeBuf.Empty() {
		c.finalize(err)
		return
	}
	c.state = StateFlushing
	c.sock.WantRead(false)
}

func (c *Call) finalize(err error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.sock.Close()
	if c.onFinalize != nil {
		c.onFinalize()
	}
	c.loop.AddFinishable(func() {
		if c.endpoint != nil {
			c.endpoint.Closed(c, err)
		}
		c.set.remove(c)
	})
}

// peekVarint looks for a complete varint at the front of buf without
// consuming it from the caller's perspective beyond reporting how many
// bytes it occupies. ok is false if more bytes are needed; overlong is
// true if 10 bytes are already buffered with no terminator.
func peekVarint(buf *base.RingBuffer) (value uint64, consumed int, ok bool, overlong bool) {
	avail := buf.Len()
	if avail > maxHeaderVarintLen {
		avail = maxHeaderVarintLen
	}
	if avail == 0 {
		return 0, 0, false, false
	}
	var scratch [maxHeaderVarintLen]byte
	head, tail := buf.Front(avail)
	n := copy(scratch[:], head)
	copy(scratch[n:], tail)

	v, n2 := protowire.ConsumeVarint(scratch[:avail])
	if n2 < 0 {
		if avail >= maxHeaderVarintLen {
			return 0, 0, false, true
		}
		return 0, 0, false, false
	}
	return v, n2, true, false
}
