// Command ircbot wires bot.Host to an eventloop.Loop and runs it until
// SIGTERM/SIGINT, the thin process entry point spec §6 leaves to an
// external collaborator (configuration parsing and plugin discovery are
// both out of scope; this binary fills in just enough to exercise the
// core from a realistic caller).
package main

import (
	"os"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/bot"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/irc"
)

func main() {
	var (
		host     = flag.String("host", "", "IRC server host")
		port     = flag.String("port", "6667", "IRC server port")
		nick     = flag.String("nick", "ircbot", "nickname")
		useTLS   = flag.Bool("tls", false, "connect with TLS")
		network  = flag.String("network", "default", "network name")
		channels = flag.StringSlice("channel", nil, "channel to autojoin (repeatable)")
	)
	flag.Parse()

	log := base.NewLogger(os.Stderr)
	if *host == "" {
		log.Fatal("ircbot: -host is required", nil)
	}

	loop, err := eventloop.NewLoop(log)
	if err != nil {
		log.Fatal("ircbot: failed to build event loop", err)
	}

	metrics := base.NewMetrics("ircbot", nil)

	cfg := bot.Config{Networks: []bot.NetworkConfig{
		{
			Name: *network,
			Config: irc.Config{
				Servers:  []irc.ServerConfig{{Host: *host, Port: *port, TLS: *useTLS}},
				Nick:     *nick,
				Channels: *channels,
			},
		},
	}}

	h := bot.NewHost(cfg, loop, log, metrics)
	h.Start()

	// SIGTERM already stops the loop by default; SIGINT is opted in here.
	loop.AddSignal(int(syscall.SIGINT), func(int) { loop.Stop() })

	if err := loop.Run(); err != nil {
		log.Fatal("ircbot: event loop exited with error", err)
	}
}
