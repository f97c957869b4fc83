package irc

import (
	"testing"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
)

// fakeSocket is a minimal socket.Socket stand-in that always accepts
// writes in full and never reports incoming data, enough to exercise the
// flood-control bookkeeping in isolation from the reactor and kernel.
type fakeSocket struct {
	written []byte
}

func (f *fakeSocket) Start()               {}
func (f *fakeSocket) WantRead(bool)        {}
func (f *fakeSocket) WantWrite(bool)       {}
func (f *fakeSocket) SafeToRead() bool     { return true }
func (f *fakeSocket) SafeToWrite() bool    { return true }
func (f *fakeSocket) Close() error         { return nil }
func (f *fakeSocket) Read(buf []byte) base.IOResult {
	return base.IOResultOk(0)
}
func (f *fakeSocket) Write(buf []byte) base.IOResult {
	f.written = append(f.written, buf...)
	return base.IOResultOk(len(buf))
}

func newTestConnection(t *testing.T) (*Connection, *fakeSocket) {
	loop, err := eventloop.NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	c := NewConnection(Config{
		Servers: []ServerConfig{{Host: "irc.example.org", Port: "6667"}},
		Nick:    "bot",
	}, loop, base.NopLogger(), nil)
	sock := &fakeSocket{}
	c.sock = sock
	c.state = StateReady
	return c, sock
}

func TestFloodControlFullCreditWritesImmediately(t *testing.T) {
	c, sock := newTestConnection(t)

	msg := NewMessage("", "PRIVMSG", "#chan", "hi")
	n := msg.WriteSize()
	wantCost := 10*n + 1000 // PRIVMSG carries no surcharge, base cost 1000

	c.sendInternal(msg)

	if got := len(sock.written); got != n+2 {
		t.Fatalf("wrote %d bytes, want %d (message plus CRLF)", got, n+2)
	}
	if got := maxWriteCredit - c.writeCredit; got != wantCost {
		t.Fatalf("debited %d, want %d", got, wantCost)
	}
	if len(c.writeQueue) != 0 {
		t.Fatalf("write queue should have drained, has %d entries", len(c.writeQueue))
	}
}

func TestFloodControlSurchargedCommand(t *testing.T) {
	c, sock := newTestConnection(t)

	msg := NewMessage("", "WHO", "#chan")
	n := msg.WriteSize()
	wantCost := 10*n + 1000 + 3000 // WHO carries a 3000 surcharge

	c.sendInternal(msg)

	if got := len(sock.written); got != n+2 {
		t.Fatalf("wrote %d bytes, want %d", got, n+2)
	}
	if got := maxWriteCredit - c.writeCredit; got != wantCost {
		t.Fatalf("debited %d, want %d", got, wantCost)
	}
}

func TestFloodControlInsufficientCreditQueuesMessage(t *testing.T) {
	c, sock := newTestConnection(t)
	c.writeCredit = 10 // far less than any message will cost

	msg := NewMessage("", "PRIVMSG", "#chan", "hi")
	c.sendInternal(msg)

	if len(sock.written) != 0 {
		t.Fatalf("expected no bytes written while under credit, got %d", len(sock.written))
	}
	if len(c.writeQueue) != 1 {
		t.Fatalf("expected the message to remain queued, queue has %d entries", len(c.writeQueue))
	}
}

func TestSendDropsMessagesOutsideReadyState(t *testing.T) {
	c, sock := newTestConnection(t)
	c.state = StateConnecting

	c.Send(NewMessage("", "PRIVMSG", "#chan", "hi"))

	if len(sock.written) != 0 {
		t.Fatalf("Send should be a no-op outside StateReady, got %d bytes written", len(sock.written))
	}
	if len(c.writeQueue) != 0 {
		t.Fatalf("Send should not queue outside StateReady, queue has %d entries", len(c.writeQueue))
	}
}

func TestNickInUseDuringConnectingTriesAlternate(t *testing.T) {
	c, _ := newTestConnection(t)
	c.state = StateConnecting
	c.currentNick = "bot"

	c.handleNickInUse()

	if c.currentNick != "bot1" {
		t.Fatalf("got nick %q, want %q", c.currentNick, "bot1")
	}
}

func TestOwnJoinMarksChannelJoined(t *testing.T) {
	c, _ := newTestConnection(t)
	c.currentNick = "bot"
	c.channels["#chan"] = ChannelJoining

	c.handleJoin(NewMessage("bot!user@host", "JOIN", "#chan"))

	if c.channels["#chan"] != ChannelJoined {
		t.Fatalf("channel state = %v, want ChannelJoined", c.channels["#chan"])
	}
	if !c.IsNickOnChannel("#chan", "bot") {
		t.Fatal("expected bot to be tracked as present on #chan")
	}
}

func TestOtherNickJoinDoesNotChangeChannelState(t *testing.T) {
	c, _ := newTestConnection(t)
	c.currentNick = "bot"
	c.channels["#chan"] = ChannelJoining

	c.handleJoin(NewMessage("someoneelse!user@host", "JOIN", "#chan"))

	if c.channels["#chan"] != ChannelJoining {
		t.Fatalf("channel state = %v, want it unchanged", c.channels["#chan"])
	}
	if !c.IsNickOnChannel("#chan", "someoneelse") {
		t.Fatal("expected someoneelse to be tracked as present on #chan")
	}
}
