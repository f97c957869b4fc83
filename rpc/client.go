package rpc

import (
	"encoding/binary"

	"google.golang.org/protobuf/proto"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/socket"
)

// Client owns the set of calls this process has initiated.
type Client struct {
	loop  *eventloop.Loop
	log   *base.Logger
	calls *Set
}

// NewClient builds a Client.
func NewClient(loop *eventloop.Loop, log *base.Logger) *Client {
	if log == nil {
		log = base.NopLogger()
	}
	return &Client{loop: loop, log: log, calls: NewSet()}
}

// Calls returns the set of currently live calls.
func (cl *Client) Calls() *Set { return cl.calls }

// Dial builds and starts a new outgoing call: a socket is built from b
// (whose Watcher is overwritten), the 4-byte method code and optional
// first message are queued, and the socket connect sequence begins.
func (cl *Client) Dial(b *socket.Builder, method uint32, endpoint Endpoint, first proto.Message) (*Call, error) {
	call := newPendingCall(cl.loop, cl.log, cl.calls)
	call.method = method
	call.endpoint = endpoint
	call.state = StateConnecting

	sock, err := b.Watcher(call).Build()
	if err != nil {
		cl.calls.remove(call)
		return nil, err
	}
	call.sock = sock

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], method)
	call.writeBuf.Write(hdr[:])

	if first != nil {
		if err := call.queue(first); err != nil {
			cl.calls.remove(call)
			return nil, err
		}
	}

	sock.Start()
	return call, nil
}

// Close closes every live call without flushing.
func (cl *Client) Close() {
	cl.calls.CloseAll()
}
