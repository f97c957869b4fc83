// Package bot is the minimal collaborator boundary described for the
// bot shell: typed configuration, a simple (non-reflective) module
// registry, and the three operations a module needs from the core —
// send on a network, query channel presence, and the network's name.
// Config file parsing, plugin discovery, and protobuf-reflection config
// wiring are out of scope; callers build a Config directly.
package bot

import "github.com/marrowbot/ircbotcore/irc"

// NetworkConfig names one IRC network and the connection options used
// to reach it.
type NetworkConfig struct {
	Name string
	irc.Config
}

// Config is the full set of options a Host is built from: one or more
// networks plus nothing else — metrics and logging are supplied
// directly to NewHost rather than carried in the config shape, since
// they are process-wide collaborators rather than per-bot settings.
type Config struct {
	Networks []NetworkConfig
}
