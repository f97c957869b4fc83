package bot

import (
	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/irc"
)

// network pairs one configured IRC connection with the name it is
// known by to modules and to SendOnNetwork/IsNickOnChannel callers.
type network struct {
	name string
	conn *irc.Connection
}

// Host is the bot shell: it owns a Loop, a set of named IRC networks,
// and the modules subscribed to all of them. It is the "host" reference
// spec §6 says each module receives — loop, metrics, per-network
// connection lookup — reduced to the three operations the core actually
// needs to expose: send-on-network, is-nick-on-channel, and the
// network's name.
type Host struct {
	loop    *eventloop.Loop
	log     *base.Logger
	metrics *base.Metrics

	networks map[string]*network
	modules  []Module
}

// NewHost builds a Host from cfg. metrics may be nil.
func NewHost(cfg Config, loop *eventloop.Loop, log *base.Logger, metrics *base.Metrics) *Host {
	if log == nil {
		log = base.NopLogger()
	}
	h := &Host{
		loop:     loop,
		log:      log,
		metrics:  metrics,
		networks: make(map[string]*network),
	}
	for _, nc := range cfg.Networks {
		h.addNetwork(nc)
	}
	return h
}

func (h *Host) addNetwork(nc NetworkConfig) {
	n := &network{name: nc.Name}
	n.conn = irc.NewConnection(nc.Config, h.loop, h.log.With("network", nc.Name), h.metrics)
	n.conn.AddSubscriber(&networkRelay{host: h, name: nc.Name})
	h.networks[nc.Name] = n
}

// AddModule registers m to receive events from every network. Modules
// must be added before Start; the registry itself never discovers
// modules by reflecting over configuration, unlike the original.
func (h *Host) AddModule(m Module) { h.modules = append(h.modules, m) }

// Start connects every configured network.
func (h *Host) Start() {
	for _, n := range h.networks {
		n.conn.Start()
	}
}

// SendOnNetwork posts msg for transmission on the named network. It is
// a no-op (logged) if the network is unknown.
func (h *Host) SendOnNetwork(network string, msg irc.Message) {
	n, ok := h.networks[network]
	if !ok {
		h.log.Warn().Str("network", network).Msg("bot: send on unknown network")
		return
	}
	n.conn.Send(msg)
}

// IsNickOnChannel reports whether nick is tracked as present on channel
// on the named network.
func (h *Host) IsNickOnChannel(network, channel, nick string) bool {
	n, ok := h.networks[network]
	if !ok {
		return false
	}
	return n.conn.IsNickOnChannel(channel, nick)
}

// NetworkName returns network unchanged if it names a configured
// network, or "" otherwise — the trivial per-network name lookup spec
// §6 calls for, kept as a method so modules never need direct map
// access into Host's internals.
func (h *Host) NetworkName(network string) string {
	if _, ok := h.networks[network]; ok {
		return network
	}
	return ""
}

// networkRelay adapts irc.Subscriber (untagged by network) onto
// Host.modules (tagged by network), fanning one connection's events out
// to every registered module.
type networkRelay struct {
	host *Host
	name string
}

func (r *networkRelay) AnyRawReceived(line []byte) {
	for _, m := range r.host.modules {
		m.AnyRawReceived(r.name, line)
	}
}

func (r *networkRelay) AnyRawSent(line []byte) {
	for _, m := range r.host.modules {
		m.AnyRawSent(r.name, line)
	}
}

func (r *networkRelay) ConnectionReady() {
	for _, m := range r.host.modules {
		m.ConnectionReady(r.name)
	}
}

func (r *networkRelay) ConnectionLost(err error) {
	for _, m := range r.host.modules {
		m.ConnectionLost(r.name, err)
	}
}

func (r *networkRelay) NickChanged(oldNick, newNick string) {
	for _, m := range r.host.modules {
		m.NickChanged(r.name, oldNick, newNick)
	}
}

func (r *networkRelay) ChannelJoined(channel string) {
	for _, m := range r.host.modules {
		m.ChannelJoined(r.name, channel)
	}
}

func (r *networkRelay) ChannelLeft(channel string) {
	for _, m := range r.host.modules {
		m.ChannelLeft(r.name, channel)
	}
}
