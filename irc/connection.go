package irc

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/socket"
)

// MaxMessageSize is the hard per-line limit, matching original_source's
// irc::kMaxMessageSize.
const MaxMessageSize = 512

const (
	autojoinDelay      = 10 * time.Second
	nickRegainInterval = 30 * time.Second
	maxWriteCredit     = 10000
)

// ConnState is the connection's own lifecycle, per the registration
// handshake described for the IRC connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateRegistered
	StateReady
)

// ChannelState tracks one configured channel's join status.
type ChannelState int

const (
	ChannelKnown ChannelState = iota
	ChannelJoining
	ChannelJoined
)

// SASLConfig configures a SASL PLAIN or EXTERNAL authentication attempt.
type SASLConfig struct {
	Mechanism string // "PLAIN" or "EXTERNAL"
	AuthzID   string
	AuthcID   string
	Password  string
}

// ServerConfig names one candidate IRC server.
type ServerConfig struct {
	Host       string
	Port       string
	TLS        bool
	ClientCert string
	ClientKey  string
	Password   string
	SASL       *SASLConfig
}

// Config is the full set of options for a Connection, merged against
// defaults the way the original's constructor merges a partial proto
// over stock defaults.
type Config struct {
	Servers  []ServerConfig
	Nick     string
	User     string
	RealName string
	Password string
	SASL     *SASLConfig
	Channels []string

	ResolveTimeoutMs int
	ConnectTimeoutMs int
	ReconnectDelayMs int
}

// WithDefaults returns a copy of cfg with zero-valued fields filled in,
// mirroring the original's MergeFrom-over-stock-defaults constructor.
func (c Config) WithDefaults() Config {
	if c.Nick == "" {
		c.Nick = "ircbot"
	}
	if c.User == "" {
		c.User = c.Nick
	}
	if c.RealName == "" {
		c.RealName = c.Nick
	}
	if c.ResolveTimeoutMs == 0 {
		c.ResolveTimeoutMs = 30000
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = 60000
	}
	if c.ReconnectDelayMs == 0 {
		c.ReconnectDelayMs = 30000
	}
	return c
}

// Subscriber receives connection lifecycle and traffic events. Added or
// removed at any time.
type Subscriber interface {
	AnyRawReceived(line []byte)
	AnyRawSent(line []byte)
	ConnectionReady()
	ConnectionLost(err error)
	NickChanged(oldNick, newNick string)
	ChannelJoined(channel string)
	ChannelLeft(channel string)
}

type writeQueueItem struct {
	bytes int
	cost  int
}

// extraCost is the per-command surcharge table.
var extraCost = map[string]int{
	"JOIN":     1000,
	"NICK":     1000,
	"PART":     1000,
	"PING":     1000,
	"USERHOST": 1000,
	"KICK":     2000,
	"MODE":     2000,
	"TOPIC":    2000,
	"WHO":      3000,
}

// Connection maintains at most one live connection to one of a list of
// configured IRC servers. Grounded on original_source/irc/connection.cc
// for the read-loop/flush/flood-control structure, extended with CAP/SASL
// negotiation, nick regain, and per-channel member tracking.
type Connection struct {
	cfg     Config
	loop    *eventloop.Loop
	log     *base.Logger
	metrics *base.Metrics

	currentServer int
	state         ConnState
	sock          socket.Socket

	reconnectTimer   eventloop.TimerId
	autojoinTimer    eventloop.TimerId
	nickRegainTimer  eventloop.TimerId
	writeCreditTimer eventloop.TimerId

	currentNick   string
	altNickSuffix int

	channels       map[string]ChannelState
	channelMembers map[string]map[string]bool

	capAccum   []string
	capPending bool
	saslActive bool
	saslMech   string

	readBuf  []byte
	readUsed int

	writeBuf        *base.RingBuffer
	writeQueue      []writeQueueItem
	writeCredit     int
	writeCreditTime time.Time

	subscribers []Subscriber
}

// NewConnection builds a Connection. metrics may be nil.
func NewConnection(cfg Config, loop *eventloop.Loop, log *base.Logger, metrics *base.Metrics) *Connection {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = base.NopLogger()
	}

	c := &Connection{
		cfg:            cfg,
		loop:           loop,
		log:            log,
		metrics:        metrics,
		currentNick:    cfg.Nick,
		channels:       make(map[string]ChannelState),
		channelMembers: make(map[string]map[string]bool),
		readBuf:        make([]byte, 2*MaxMessageSize+65536),
		writeBuf:       base.NewRingBuffer(4096),
		writeCredit:    maxWriteCredit,
	}
	for _, ch := range cfg.Channels {
		c.channels[ch] = ChannelKnown
	}
	return c
}

func (c *Connection) gauge(name string, value float64) {
	if c.metrics != nil {
		c.metrics.Gauge(name, nil, value)
	}
}

func (c *Connection) counter(name string, delta float64) {
	if c.metrics != nil {
		c.metrics.Counter(name, nil, delta)
	}
}

// AddSubscriber registers a listener for connection events.
func (c *Connection) AddSubscriber(s Subscriber) { c.subscribers = append(c.subscribers, s) }

// RemoveSubscriber unregisters a listener.
func (c *Connection) RemoveSubscriber(s Subscriber) {
	for i, sub := range c.subscribers {
		if sub == s {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// IsNickOnChannel reports whether nick is known to be present on channel,
// tracked reactively from JOIN/PART/NICK/QUIT/KICK traffic only (no
// periodic NAMES resync).
func (c *Connection) IsNickOnChannel(channel, nick string) bool {
	members := c.channelMembers[channel]
	return members != nil && members[nick]
}

// Start attempts to establish the connection, retrying against the
// configured server list on any loss.
func (c *Connection) Start() {
	if c.sock != nil {
		return
	}
	if c.currentServer >= len(c.cfg.Servers) {
		c.log.Error().Msg("irc: no servers configured")
		return
	}
	server := c.cfg.Servers[c.currentServer]

	b := socket.NewBuilder().
		Loop(c.loop).
		Watcher(c).
		Host(server.Host).
		Port(server.Port).
		ResolveTimeoutMs(c.cfg.ResolveTimeoutMs).
		ConnectTimeoutMs(c.cfg.ConnectTimeoutMs)
	if server.TLS {
		b = b.TLS(true).ClientCert(server.ClientCert).ClientKey(server.ClientKey)
	}

	sock, err := b.Build()
	if err != nil {
		c.connectionLost(err)
		return
	}
	c.sock = sock
	c.state = StateConnecting
	c.currentNick = c.cfg.Nick
	c.sock.Start()
}

// ConnectionOpen implements socket.Watcher.
func (c *Connection) ConnectionOpen() {
	server := c.cfg.Servers[c.currentServer]
	c.log.Info().Str("host", server.Host).Str("port", server.Port).Msg("irc: connected")

	sasl := server.SASL
	if sasl == nil {
		sasl = c.cfg.SASL
	}
	if sasl != nil {
		c.capPending = true
		c.sendInternal(NewMessage("", "CAP", "LS", "302"))
	}

	pass := server.Password
	if pass == "" {
		pass = c.cfg.Password
	}
	if pass != "" {
		c.sendInternal(NewMessage("", "PASS", pass))
	}
	c.sendInternal(NewMessage("", "NICK", c.currentNick))
	c.sendInternal(NewMessage("", "USER", c.cfg.User, "0", "*", c.cfg.RealName))

	c.sock.WantRead(true)
	c.gauge("connection_up", 1)
}

// ConnectionFailed implements socket.Watcher.
func (c *Connection) ConnectionFailed(err error) {
	c.connectionLost(err)
}

// CanRead implements socket.Watcher.
func (c *Connection) CanRead() {
	ret := c.sock.Read(c.readBuf[c.readUsed:])
	if ret.Failed() {
		c.connectionLost(ret.Err)
		return
	}
	if ret.AtEOF() {
		c.connectionLost(base.NewLogicalError("connection closed by peer"))
		return
	}
	got := ret.Size
	if got == 0 {
		return
	}
	c.readUsed += got
	c.counter("received_bytes", float64(got))

	start := 0
	left := c.readUsed

	for left > 0 {
		msgLen := 0
		for msgLen < left && msgLen < MaxMessageSize && c.readBuf[start+msgLen] != '\n' && c.readBuf[start+msgLen] != '\r' {
			msgLen++
		}

		if msgLen == MaxMessageSize || (msgLen < left && (c.readBuf[start+msgLen] == '\n' || c.readBuf[start+msgLen] == '\r')) {
			if msgLen > 0 {
				line := c.readBuf[start : start+msgLen]
				msg, ok := ParseMessage(line)
				if ok {
					c.handleMessage(msg, line)
				} else {
					c.log.Warn().Msg("irc: invalid message")
				}
				c.counter("received_lines", 1)
			}
		} else {
			break
		}

		start += msgLen
		left -= msgLen
		for left > 0 && (c.readBuf[start] == '\n' || c.readBuf[start] == '\r') {
			start++
			left--
		}
	}

	c.readUsed = left
	if left > 0 {
		copy(c.readBuf, c.readBuf[start:start+left])
	}
}

// CanWrite implements socket.Watcher.
func (c *Connection) CanWrite() { c.flush() }

func (c *Connection) handleMessage(msg Message, raw []byte) {
	for _, s := range c.subscribers {
		s.AnyRawReceived(raw)
	}

	switch {
	case msg.CommandIs("PING"):
		reply := c.currentNick
		if len(msg.Args) >= 1 {
			reply = msg.Args[0]
		}
		c.sendInternal(NewMessage("", "PONG", reply))
	case msg.CommandIs("CAP"):
		c.handleCAP(msg)
	case msg.CommandIs("AUTHENTICATE"):
		c.handleAuthenticate(msg)
	case msg.CommandIs("001"):
		c.state = StateRegistered
		if len(msg.Args) >= 1 {
			c.currentNick = msg.Args[0]
		}
		c.autojoinTimer = c.loop.Delay(autojoinDelay, c.autojoinNow)
	case msg.CommandIs("376"), msg.CommandIs("422"):
		c.loop.CancelTimer(c.autojoinTimer)
		c.autojoinNow()
	case msg.CommandIs("433"), msg.CommandIs("437"):
		c.handleNickInUse()
	case msg.CommandIs("JOIN"):
		c.handleJoin(msg)
	case msg.CommandIs("PART"):
		c.handlePart(msg)
	case msg.CommandIs("KICK"):
		c.handleKick(msg)
	case msg.CommandIs("QUIT"):
		c.handleQuit(msg)
	case msg.CommandIs("NICK"):
		c.handleNick(msg)
	case isSASLEndNumeric(msg.Command):
		c.saslActive = false
		c.sendInternal(NewMessage("", "CAP", "END"))
	}
}

func isSASLEndNumeric(cmd string) bool {
	n, err := strconv.Atoi(cmd)
	return err == nil && n >= 902 && n <= 907
}

func (c *Connection) handleCAP(msg Message) {
	if len(msg.Args) < 2 {
		return
	}
	sub := strings.ToUpper(msg.Args[1])
	switch sub {
	case "LS":
		continuation := len(msg.Args) >= 4 && msg.Args[2] == "*"
		list := msg.Args[len(msg.Args)-1]
		c.capAccum = append(c.capAccum, strings.Fields(list)...)
		if continuation {
			return
		}
		c.capPending = false
		if hasCap(c.capAccum, "sasl") {
			c.sendInternal(NewMessage("", "CAP", "REQ", "sasl"))
		} else {
			c.sendInternal(NewMessage("", "CAP", "END"))
		}
	case "ACK":
		list := msg.Args[len(msg.Args)-1]
		if hasCap(strings.Fields(list), "sasl") {
			c.startSASL()
		}
	case "NAK":
		c.sendInternal(NewMessage("", "CAP", "END"))
	}
}

func hasCap(caps []string, name string) bool {
	for _, c := range caps {
		if strings.EqualFold(strings.SplitN(c, "=", 2)[0], name) {
			return true
		}
	}
	return false
}

func (c *Connection) startSASL() {
	server := c.cfg.Servers[c.currentServer]
	sasl := server.SASL
	if sasl == nil {
		sasl = c.cfg.SASL
	}
	if sasl == nil {
		c.sendInternal(NewMessage("", "CAP", "END"))
		return
	}
	c.saslActive = true
	c.saslMech = strings.ToUpper(sasl.Mechanism)
	if c.saslMech == "" {
		c.saslMech = "PLAIN"
	}
	c.sendInternal(NewMessage("", "AUTHENTICATE", c.saslMech))
}

func (c *Connection) handleAuthenticate(msg Message) {
	if len(msg.Args) < 1 || msg.Args[0] != "+" {
		return
	}
	server := c.cfg.Servers[c.currentServer]
	sasl := server.SASL
	if sasl == nil {
		sasl = c.cfg.SASL
	}
	if sasl == nil {
		c.sendInternal(NewMessage("", "AUTHENTICATE", "*"))
		return
	}

	var cred string
	if c.saslMech == "EXTERNAL" {
		cred = sasl.AuthzID
	} else {
		cred = sasl.AuthzID + "\x00" + sasl.AuthcID + "\x00" + sasl.Password
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(cred))
	c.sendInternal(NewMessage("", "AUTHENTICATE", encoded))
}

func (c *Connection) handleNickInUse() {
	if c.state != StateConnecting {
		c.armNickRegain()
		return
	}
	c.altNickSuffix++
	c.currentNick = c.cfg.Nick + strconv.Itoa(c.altNickSuffix)
	c.sendInternal(NewMessage("", "NICK", c.currentNick))
}

func (c *Connection) armNickRegain() {
	if c.currentNick == c.cfg.Nick {
		return
	}
	if tid, ok := c.loop.AddPeriodic(nickRegainInterval, c.nickRegainTick); ok {
		c.nickRegainTimer = tid
	}
}

func (c *Connection) nickRegainTick() {
	if c.currentNick == c.cfg.Nick {
		c.loop.CancelTimer(c.nickRegainTimer)
		return
	}
	c.sendInternal(NewMessage("", "NICK", c.cfg.Nick))
}

func (c *Connection) handleJoin(msg Message) {
	nick := msg.PrefixNick()
	channel := msg.Arg(0)
	if channel == "" || nick == "" {
		return
	}
	if c.channelMembers[channel] == nil {
		c.channelMembers[channel] = make(map[string]bool)
	}
	c.channelMembers[channel][nick] = true

	if strings.EqualFold(nick, c.currentNick) {
		c.channels[channel] = ChannelJoined
		for _, s := range c.subscribers {
			s.ChannelJoined(channel)
		}
	}
}

func (c *Connection) handlePart(msg Message) {
	nick := msg.PrefixNick()
	channel := msg.Arg(0)
	if members := c.channelMembers[channel]; members != nil {
		delete(members, nick)
	}
	if strings.EqualFold(nick, c.currentNick) {
		c.channels[channel] = ChannelKnown
		for _, s := range c.subscribers {
			s.ChannelLeft(channel)
		}
	}
}

func (c *Connection) handleKick(msg Message) {
	channel := msg.Arg(0)
	kicked := msg.Arg(1)
	if members := c.channelMembers[channel]; members != nil {
		delete(members, kicked)
	}
	if strings.EqualFold(kicked, c.currentNick) {
		c.channels[channel] = ChannelKnown
		for _, s := range c.subscribers {
			s.ChannelLeft(channel)
		}
	}
}

func (c *Connection) handleQuit(msg Message) {
	nick := msg.PrefixNick()
	for _, members := range c.channelMembers {
		delete(members, nick)
	}
}

func (c *Connection) handleNick(msg Message) {
	oldNick := msg.PrefixNick()
	newNick := msg.Arg(0)
	for _, members := range c.channelMembers {
		if members[oldNick] {
			delete(members, oldNick)
			members[newNick] = true
		}
	}
	if strings.EqualFold(oldNick, c.currentNick) {
		c.currentNick = newNick
		for _, s := range c.subscribers {
			s.NickChanged(oldNick, newNick)
		}
		if newNick == c.cfg.Nick && c.nickRegainTimer != (eventloop.TimerId{}) {
			c.loop.CancelTimer(c.nickRegainTimer)
		}
	}
}

func (c *Connection) autojoinNow() {
	if c.state != StateRegistered && c.state != StateReady {
		return
	}
	c.state = StateReady
	for _, s := range c.subscribers {
		s.ConnectionReady()
	}
	for channel, st := range c.channels {
		if st == ChannelKnown {
			c.channels[channel] = ChannelJoining
			c.sendInternal(NewMessage("", "JOIN", channel))
		}
	}
}

// Send posts a message for transmission. Outside of StateReady, the
// message is silently dropped.
func (c *Connection) Send(msg Message) {
	if c.state != StateReady {
		return
	}
	c.sendInternal(msg)
}

// sendInternal queues a message regardless of connection state; used
// internally during registration before StateReady is reached.
func (c *Connection) sendInternal(msg Message) {
	if c.sock == nil {
		return
	}
	wasEmpty := len(c.writeQueue) == 0

	const maxContentSize = MaxMessageSize - 2
	size := msg.WriteSize()
	writeSize := size
	if writeSize > maxContentSize {
		writeSize = maxContentSize
	}

	tmp := make([]byte, writeSize)
	msg.Write(tmp)
	c.writeBuf.Write(tmp)
	c.writeBuf.WriteU8('\r')
	c.writeBuf.WriteU8('\n')

	for _, s := range c.subscribers {
		s.AnyRawSent(tmp)
	}

	// Only content bytes are charged per byte. item.bytes also counts the
	// CR-LF, so its 20 units are taken off the fixed part here: a fully
	// written message costs 10*writeSize + 1000 + surcharge in total.
	cost := 1000 + extraCost[strings.ToUpper(msg.Command)] - 10*2
	c.writeQueue = append(c.writeQueue, writeQueueItem{bytes: writeSize + 2, cost: cost})
	c.gauge("write_queue_bytes", float64(c.writeBuf.Len()))

	if wasEmpty {
		c.flush()
	}
}

func (c *Connection) flush() {
	if len(c.writeQueue) == 0 {
		c.sock.WantWrite(false)
		return
	}

	now := base.WallClockNow()
	if c.writeCreditTime.IsZero() {
		c.writeCreditTime = now
	}
	if c.writeCredit < maxWriteCredit {
		delta := int(now.Sub(c.writeCreditTime) / time.Millisecond)
		if delta < 0 {
			delta = 0
		}
		if delta > maxWriteCredit {
			delta = maxWriteCredit
		}
		c.writeCredit += delta
		if c.writeCredit > maxWriteCredit {
			c.writeCredit = maxWriteCredit
		}
	}
	c.writeCreditTime = now

	canWrite := 0
	creditLeft := c.writeCredit
	for _, item := range c.writeQueue {
		cost := 10*item.bytes + item.cost
		if cost > creditLeft {
			break
		}
		canWrite += item.bytes
		creditLeft -= cost
	}

	wrote := 0
	if canWrite > 0 {
		head, tail := c.writeBuf.Front(canWrite)
		for _, slice := range [][]byte{head, tail} {
			if len(slice) == 0 {
				continue
			}
			ret := c.sock.Write(slice)
			if ret.Failed() {
				c.connectionLost(ret.Err)
				return
			}
			wrote += ret.Size
			if ret.Size != len(slice) {
				break
			}
		}
	}

	if wrote > 0 {
		c.counter("sent_bytes", float64(wrote))
		c.writeBuf.Pop(wrote)
		c.gauge("write_queue_bytes", float64(c.writeBuf.Len()))

		pop := wrote
		for pop > 0 {
			item := &c.writeQueue[0]
			if item.bytes <= pop {
				pop -= item.bytes
				c.writeCredit -= 10*item.bytes + item.cost
				c.writeQueue = c.writeQueue[1:]
				c.counter("sent_lines", 1)
			} else {
				item.bytes -= pop
				c.writeCredit -= 10 * pop
				pop = 0
			}
		}
	}

	if wrote < canWrite {
		c.sock.WantWrite(true)
		return
	}
	c.sock.WantWrite(false)

	if len(c.writeQueue) > 0 {
		c.loop.CancelTimer(c.writeCreditTimer)
		item := c.writeQueue[0]
		cost := 10*item.bytes + item.cost
		debt := cost - c.writeCredit
		if debt < 0 {
			debt = 0
		}
		c.writeCreditTimer = c.loop.Delay(time.Duration(debt)*time.Millisecond, c.writeCreditTimerFired)
	}
}

func (c *Connection) writeCreditTimerFired() {
	c.flush()
}

func (c *Connection) connectionLost(err error) {
	server := c.cfg.Servers[c.currentServer]

	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}

	c.writeBuf.Clear()
	c.writeQueue = nil
	c.loop.CancelTimer(c.writeCreditTimer)
	c.loop.CancelTimer(c.autojoinTimer)
	c.loop.CancelTimer(c.nickRegainTimer)

	for channel, st := range c.channels {
		if st == ChannelJoining || st == ChannelJoined {
			c.channels[channel] = ChannelKnown
			for _, s := range c.subscribers {
				s.ChannelLeft(channel)
			}
		}
	}
	c.channelMembers = make(map[string]map[string]bool)

	ev := c.log.Warn().Str("host", server.Host)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("irc: connection lost, trying next server")

	for _, s := range c.subscribers {
		s.ConnectionLost(err)
	}

	c.state = StateDisconnected
	c.currentServer = (c.currentServer + 1) % len(c.cfg.Servers)
	c.reconnectTimer = c.loop.Delay(time.Duration(c.cfg.ReconnectDelayMs)*time.Millisecond, c.Start)

	c.gauge("connection_up", 0)
}
