package bot

import (
	"testing"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/irc"
)

type recordingModule struct {
	NopModule
	ready []string
}

func (m *recordingModule) Name() string { return "recording" }

func (m *recordingModule) ConnectionReady(network string) {
	m.ready = append(m.ready, network)
}

func newTestHost(t *testing.T) *Host {
	loop, err := eventloop.NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	cfg := Config{Networks: []NetworkConfig{
		{Name: "freenode", Config: irc.Config{
			Servers: []irc.ServerConfig{{Host: "irc.example.org", Port: "6667"}},
			Nick:    "bot",
		}},
	}}
	return NewHost(cfg, loop, base.NopLogger(), nil)
}

func TestNetworkNameKnownAndUnknown(t *testing.T) {
	h := newTestHost(t)

	if got := h.NetworkName("freenode"); got != "freenode" {
		t.Fatalf("NetworkName(freenode) = %q, want %q", got, "freenode")
	}
	if got := h.NetworkName("efnet"); got != "" {
		t.Fatalf("NetworkName(efnet) = %q, want empty", got)
	}
}

func TestIsNickOnChannelUnknownNetworkIsFalse(t *testing.T) {
	h := newTestHost(t)

	if h.IsNickOnChannel("efnet", "#chan", "bot") {
		t.Fatal("expected false for an unknown network")
	}
}

func TestSendOnUnknownNetworkIsNoop(t *testing.T) {
	h := newTestHost(t)

	// Must not panic; the network simply doesn't exist.
	h.SendOnNetwork("efnet", irc.NewMessage("", "PRIVMSG", "#chan", "hi"))
}

func TestModuleReceivesConnectionReadyTaggedByNetwork(t *testing.T) {
	h := newTestHost(t)
	m := &recordingModule{}
	h.AddModule(m)

	// Drive the relay directly, the way irc.Connection would on its own
	// ConnectionReady callback, without needing a live socket.
	relay := &networkRelay{host: h, name: "freenode"}
	relay.ConnectionReady()

	if len(m.ready) != 1 || m.ready[0] != "freenode" {
		t.Fatalf("ready = %v, want [\"freenode\"]", m.ready)
	}
}
