package bot

// Module is the boundary a plugin implements. The original walks a
// config proto by reflection to discover and instantiate modules; this
// stand-in skips discovery entirely and has callers register modules
// directly with Host.AddModule. Every callback is qualified by the
// network name it arrived on, since one Host may run several networks
// concurrently.
type Module interface {
	// Name identifies the module in logs.
	Name() string

	AnyRawReceived(network string, line []byte)
	AnyRawSent(network string, line []byte)
	ConnectionReady(network string)
	ConnectionLost(network string, err error)
	NickChanged(network, oldNick, newNick string)
	ChannelJoined(network, channel string)
	ChannelLeft(network, channel string)
}

// NopModule is embeddable by a Module that only cares about a subset of
// the callbacks; the rest become no-ops.
type NopModule struct{}

func (NopModule) AnyRawReceived(string, []byte)      {}
func (NopModule) AnyRawSent(string, []byte)          {}
func (NopModule) ConnectionReady(string)             {}
func (NopModule) ConnectionLost(string, error)       {}
func (NopModule) NickChanged(string, string, string) {}
func (NopModule) ChannelJoined(string, string)       {}
func (NopModule) ChannelLeft(string, string)         {}
