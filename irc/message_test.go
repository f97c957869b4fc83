package irc

import "testing"

func TestMessageWriteNoPrefix(t *testing.T) {
	got := string(NewMessage("", "quit").Bytes())
	if got != "quit" {
		t.Fatalf("got %q, want %q", got, "quit")
	}
}

func TestMessageWriteMultipleArgsLastHasSpace(t *testing.T) {
	got := string(NewMessage("", "whois", "foo", "bar", "extra stuff").Bytes())
	want := "whois foo bar :extra stuff"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMessageWriteWithPrefix(t *testing.T) {
	got := string(NewMessage("irc.server", "quit", "some message here").Bytes())
	want := ":irc.server quit :some message here"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMessageParseWriteRoundTrip(t *testing.T) {
	cases := []Message{
		NewMessage("", "QUIT"),
		NewMessage("", "NICK", "newnick"),
		NewMessage("", "PRIVMSG", "#chan", "hello there"),
		NewMessage("nick!user@host", "PRIVMSG", "#chan", "hey"),
	}
	for _, m := range cases {
		line := m.Bytes()
		got, ok := ParseMessage(line)
		if !ok {
			t.Fatalf("ParseMessage(%q) failed", line)
		}
		if got.Prefix != m.Prefix || got.Command != m.Command || len(got.Args) != len(m.Args) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
		}
		for i := range m.Args {
			if got.Args[i] != m.Args[i] {
				t.Fatalf("arg %d mismatch: got %q, want %q", i, got.Args[i], m.Args[i])
			}
		}
	}
}

func TestPrefixNick(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"nick!user@host", "nick"},
		{"irc.server", ""},
		{"!user@host", ""},
		{"nick!@host", ""},
		{"nick!user@", ""},
		{"", ""},
	}
	for _, c := range cases {
		m := Message{Prefix: c.prefix}
		if got := m.PrefixNick(); got != c.want {
			t.Errorf("PrefixNick(%q) = %q, want %q", c.prefix, got, c.want)
		}
	}
}

func TestParseMessageTruncatedInput(t *testing.T) {
	if _, ok := ParseMessage([]byte(":onlyprefix")); ok {
		t.Fatal("expected parse failure for a prefix with no command")
	}
	if _, ok := ParseMessage([]byte("")); ok {
		t.Fatal("expected parse failure for an empty line")
	}
	if _, ok := ParseMessage([]byte("   ")); ok {
		t.Fatal("expected parse failure for an all-space line")
	}
}

func TestCommandIsCaseInsensitive(t *testing.T) {
	m := NewMessage("", "PING", "irc.server")
	if !m.CommandIs("ping") {
		t.Fatal("CommandIs should be case-insensitive")
	}
}

func TestArgIsCaseInsensitive(t *testing.T) {
	m := NewMessage("", "JOIN", "#Chan")
	if !m.ArgIs(0, "#chan") {
		t.Fatal("ArgIs should be case-insensitive")
	}
	if m.ArgIs(5, "#chan") {
		t.Fatal("ArgIs on an out-of-range index should be false")
	}
}
