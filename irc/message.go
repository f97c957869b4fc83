// Package irc implements the client-side IRC protocol: line framing, the
// registration/SASL handshake, nick and channel state tracking, and
// token-bucket output pacing, all driven through a socket.Socket.
//
// Grounded on original_source/irc/message.{h,cc} and connection.{h,cc}.
package irc

import (
	"bytes"
	"strings"
)

// Message is a parsed (or about-to-be-serialised) IRC protocol line:
// an optional prefix, a command, and an ordered list of arguments.
type Message struct {
	Prefix  string
	Command string
	Args    []string
}

// NewMessage builds a message from a command and its arguments, with an
// optional prefix — the moral equivalent of the original's
// initializer-list constructor, used throughout for outgoing lines.
func NewMessage(prefix, command string, args ...string) Message {
	return Message{Prefix: prefix, Command: command, Args: args}
}

// ParseMessage parses one IRC protocol line, which must not contain any
// CR or LF. It returns false if the line is not valid as per this
// module's relaxed grammar (any non-space bytes form a command; only a
// missing command is rejected).
func ParseMessage(data []byte) (Message, bool) {
	var m Message
	p := data

	if len(p) > 0 && p[0] == ':' {
		p = p[1:]
		idx := bytes.IndexByte(p, ' ')
		if idx < 0 {
			return Message{}, false
		}
		m.Prefix = string(p[:idx])
		p = p[idx:]
	}

	for len(p) > 0 && p[0] == ' ' {
		p = p[1:]
	}

	cmdLen := 0
	for cmdLen < len(p) && p[cmdLen] != ' ' {
		cmdLen++
	}
	if cmdLen == 0 {
		return Message{}, false
	}
	m.Command = string(p[:cmdLen])
	p = p[cmdLen:]

	for len(p) > 0 {
		for len(p) > 0 && p[0] == ' ' {
			p = p[1:]
		}
		if len(p) == 0 {
			break
		}
		if p[0] == ':' {
			m.Args = append(m.Args, string(p[1:]))
			return m, true
		}
		argLen := 0
		for argLen < len(p) && p[argLen] != ' ' {
			argLen++
		}
		m.Args = append(m.Args, string(p[:argLen]))
		p = p[argLen:]
	}

	return m, true
}

// WriteSize returns the number of bytes Write would produce, without
// writing anything — the snprintf-style size query the original uses to
// size a ring-buffer reservation before writing into it.
func (m Message) WriteSize() int {
	return m.Write(nil)
}

// Write serialises the message into dst (the CR-LF delimiter is not
// included), writing at most len(dst) bytes but always returning the
// message's full natural size so the caller can detect truncation or
// pre-size a buffer. Only the last argument may legally contain a space;
// the caller is responsible for that invariant holding.
func (m Message) Write(dst []byte) int {
	at := 0
	put := func(b byte) {
		if at < len(dst) {
			dst[at] = b
		}
		at++
	}
	putStr := func(s string) {
		if at < len(dst) {
			copy(dst[at:], s)
		}
		at += len(s)
	}

	if m.Prefix != "" {
		put(':')
		putStr(m.Prefix)
		put(' ')
	}

	putStr(m.Command)

	for i, arg := range m.Args {
		put(' ')
		if i == len(m.Args)-1 && strings.IndexByte(arg, ' ') >= 0 {
			put(':')
		}
		putStr(arg)
	}

	return at
}

// Bytes allocates and returns the exact serialised form.
func (m Message) Bytes() []byte {
	buf := make([]byte, m.WriteSize())
	m.Write(buf)
	return buf
}

// PrefixNick returns the nick portion of Prefix if it has the
// "nick!user@host" form with all three parts non-empty, or "" otherwise.
func (m Message) PrefixNick() string {
	ex := strings.IndexByte(m.Prefix, '!')
	if ex < 0 {
		return ""
	}
	at := strings.IndexByte(m.Prefix[ex+1:], '@')
	if at < 0 {
		return ""
	}
	at += ex + 1

	if ex == 0 || at == ex+1 || at == len(m.Prefix)-1 {
		return ""
	}
	return m.Prefix[:ex]
}

// CommandIs reports whether Command equals test, ASCII-case-insensitively.
func (m Message) CommandIs(test string) bool {
	return strings.EqualFold(m.Command, test)
}

// ArgIs reports whether argument n exists and equals test,
// ASCII-case-insensitively.
func (m Message) ArgIs(n int, test string) bool {
	return n < len(m.Args) && strings.EqualFold(m.Args[n], test)
}

// Arg returns argument at, or "" if out of range.
func (m Message) Arg(at int) string {
	if at < 0 || at >= len(m.Args) {
		return ""
	}
	return m.Args[at]
}
