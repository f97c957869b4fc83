// Command rpcwatch stands in for the out-of-scope CLI tool: it dials an
// RPC server, sends one ping message, and prints replies: with -once it
// exits after the first reply, otherwise it keeps printing until
// interrupted, exercising rpc.Client/rpcgen end to end.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/marrowbot/ircbotcore/base"
	"github.com/marrowbot/ircbotcore/eventloop"
	"github.com/marrowbot/ircbotcore/rpc"
	"github.com/marrowbot/ircbotcore/rpcgen"
	"github.com/marrowbot/ircbotcore/socket"
)

func main() {
	var (
		host    = flag.String("host", "127.0.0.1", "RPC server host")
		port    = flag.String("port", "", "RPC server port")
		payload = flag.String("payload", "hello world", "payload to send")
		once    = flag.Bool("once", false, "send one message and exit after the first reply")
	)
	flag.Parse()

	if *port == "" {
		fmt.Fprintln(os.Stderr, "rpcwatch: -port is required")
		os.Exit(1)
	}

	log := base.NewLogger(os.Stderr)
	loop, err := eventloop.NewLoop(log)
	if err != nil {
		log.Fatal("rpcwatch: failed to build event loop", err)
	}

	client := rpc.NewClient(loop, log)
	b := socket.NewBuilder().Loop(loop).Host(*host).Port(*port)

	call, err := rpcgen.DialPing(client, b, *payload)
	if err != nil {
		log.Fatal("rpcwatch: dial failed", err)
	}

	// The reply reader runs off the loop goroutine, so it asks the loop to
	// close and stop through PostClientEvent.
	stopID := loop.AddClient(func(eventloop.ClientData) {
		call.Close()
		loop.Stop()
	})
	go func() {
		for {
			fmt.Println(call.Response())
			if *once {
				loop.PostClientEvent(stopID, eventloop.ClientData{})
				return
			}
		}
	}()

	if err := loop.Run(); err != nil {
		log.Fatal("rpcwatch: event loop exited with error", err)
	}
}
