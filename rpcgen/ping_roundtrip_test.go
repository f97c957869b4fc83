package rpcgen

import (
	"testing"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/rpc"
	"github.com/marrowbot/ircbotcore/socket"
)

type echoPingHandler struct{}

func (echoPingHandler) Ping(payload string) string { return payload + "-pong" }

// TestDialPingRoundTripsOverLoopback drives a real *rpc.Call over a
// loopback TCP connection through both pingServerEndpoint.Receive and
// pingClientEndpoint.Receive, rather than calling the handler directly.
func TestDialPingRoundTripsOverLoopback(t *testing.T) {
	loop, err := eventloop.NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	server := rpc.NewServer(loop, base.NopLogger(), PingDispatcher{Handler: echoPingHandler{}}, 0)
	if err := server.ListenTCP("127.0.0.1", "18777"); err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer server.Close()

	client := rpc.NewClient(loop, base.NopLogger())
	b := socket.NewBuilder().Loop(loop).Host("127.0.0.1").Port("18777")

	call, err := DialPing(client, b, "hello")
	if err != nil {
		t.Fatalf("DialPing: %v", err)
	}

	var got string
	stopID := loop.AddClient(func(eventloop.ClientData) { loop.Stop() })
	go func() {
		got = call.Response()
		loop.PostClientEvent(stopID, eventloop.ClientData{})
	}()

	if err := loop.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got != "hello-pong" {
		t.Fatalf("Response() = %q, want %q", got, "hello-pong")
	}
}
