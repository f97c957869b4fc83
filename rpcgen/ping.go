// Package rpcgen stands in for the out-of-scope RPC code generator: a
// hand-written client and server wrapper exercising the rpc package's
// open/send/close surface the way a generated stub would, for one
// example method.
package rpcgen

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marrowbot/ircbotcore/rpc"
	"github.com/marrowbot/ircbotcore/socket"
)

// MethodPing is the 4-byte method code a generator would have assigned
// this service's sole method.
const MethodPing uint32 = 1

// PingHandler is implemented by the application code behind a ping
// server; a generator would produce this interface from a .proto
// service definition.
type PingHandler interface {
	Ping(payload string) string
}

// PingDispatcher adapts a PingHandler into an rpc.Dispatcher exposing
// just MethodPing.
type PingDispatcher struct {
	Handler PingHandler
}

func (d PingDispatcher) Dispatch(method uint32) (rpc.Endpoint, bool) {
	if method != MethodPing {
		return nil, false
	}
	return &pingServerEndpoint{handler: d.Handler}, true
}

type pingServerEndpoint struct {
	handler PingHandler
}

func (e *pingServerEndpoint) Open(call *rpc.Call) proto.Message {
	return &wrapperspb.StringValue{}
}

func (e *pingServerEndpoint) Receive(call *rpc.Call, msg proto.Message) {
	req := msg.(*wrapperspb.StringValue)
	resp := e.handler.Ping(req.Value)
	_ = call.Send(&wrapperspb.StringValue{Value: resp})
}

func (e *pingServerEndpoint) Closed(call *rpc.Call, err error) {}

// PingCall is the generated-style client handle: DialPing sends the ping
// as the call's first message, and Response delivers each reply as it
// arrives.
type PingCall struct {
	call      *rpc.Call
	responses chan string
	closed    chan error
}

type pingClientEndpoint struct {
	owner *PingCall
}

func (e *pingClientEndpoint) Open(call *rpc.Call) proto.Message {
	return &wrapperspb.StringValue{}
}

func (e *pingClientEndpoint) Receive(call *rpc.Call, msg proto.Message) {
	sv := msg.(*wrapperspb.StringValue)
	select {
	case e.owner.responses <- sv.Value:
	default:
	}
}

func (e *pingClientEndpoint) Closed(call *rpc.Call, err error) {
	e.owner.closed <- err
}

// DialPing opens a ping call over b, sending payload as the first
// message the way a generated client stub's one-shot RPC method would.
func DialPing(client *rpc.Client, b *socket.Builder, payload string) (*PingCall, error) {
	pc := &PingCall{
		responses: make(chan string, 1),
		closed:    make(chan error, 1),
	}
	endpoint := &pingClientEndpoint{owner: pc}

	call, err := client.Dial(b, MethodPing, endpoint, &wrapperspb.StringValue{Value: payload})
	if err != nil {
		return nil, err
	}
	pc.call = call
	return pc, nil
}

// Response blocks until the next reply arrives on this call.
func (p *PingCall) Response() string { return <-p.responses }

// Closed blocks until the call finalizes, returning the error it closed
// with (nil on a clean close).
func (p *PingCall) Closed() error { return <-p.closed }

// Close requests an orderly shutdown of the underlying call.
func (p *PingCall) Close() { p.call.Close(nil, true) }
