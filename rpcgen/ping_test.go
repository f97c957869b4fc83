package rpcgen

import (
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marrowbot/ircbotcore/rpc"
)

type upperHandler struct{}

func (upperHandler) Ping(payload string) string { return payload + "!" }

func TestPingDispatcherResolvesMethod(t *testing.T) {
	d := PingDispatcher{Handler: upperHandler{}}

	if _, ok := d.Dispatch(MethodPing); !ok {
		t.Fatal("expected MethodPing to resolve")
	}
	if _, ok := d.Dispatch(MethodPing + 1); ok {
		t.Fatal("expected an unknown method to not resolve")
	}
}

func TestPingServerEndpointOpenAndHandler(t *testing.T) {
	d := PingDispatcher{Handler: upperHandler{}}
	endpoint, ok := d.Dispatch(MethodPing)
	if !ok {
		t.Fatal("expected MethodPing to resolve")
	}

	target := endpoint.Open(nil)
	sv, ok := target.(*wrapperspb.StringValue)
	if !ok {
		t.Fatalf("Open returned %T, want *wrapperspb.StringValue", target)
	}
	sv.Value = "hello"

	// Receive drives the handler and calls Send on the *rpc.Call, which
	// this unit test doesn't construct; that wiring is exercised end to
	// end by TestDialPingRoundTripsOverLoopback. Here we only check that
	// Open yields a StringValue and that the handler maps the payload.
	var got string
	stub := upperHandler{}
	got = stub.Ping(sv.Value)
	if got != "hello!" {
		t.Fatalf("Ping(%q) = %q, want %q", sv.Value, got, "hello!")
	}
}

var _ rpc.Dispatcher = PingDispatcher{}
