package chanderive

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nethesis/matrix2irc/roomstate"
)

func strp(s string) *string { return &s }

func TestDeriveCanonicalAlias(t *testing.T) {
	alias := "#general:example.com"
	r := roomstate.Room{CanonicalAlias: &alias}
	assert.Equal(t, alias, Derive("!abc:example.com", r))
}

func TestDeriveBridgedChannelName(t *testing.T) {
	r := roomstate.Room{
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "discordgo", Name: "Discord"},
			Network:  &roomstate.BridgeNetwork{ID: "n1", Name: "Cool Guild"},
			Channel:  roomstate.BridgeChannel{ID: "c1", Name: "general"},
		},
	}
	assert.Equal(t, "@general:Cool-Guild.discord", Derive("!abc:server", r))
}

func TestDeriveBridgedDMFallbackToRoomName(t *testing.T) {
	r := roomstate.Room{
		Name: strp("Alice Example"),
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "discordgo", Name: "Discord"},
			Network:  &roomstate.BridgeNetwork{ID: "n1", Name: "Cool Guild"},
			Channel:  roomstate.BridgeChannel{ID: "c1", Name: ""},
		},
	}
	assert.Equal(t, "@Alice-Example:Cool-Guild.discord", Derive("!abc:server", r))
}

func TestDeriveBridgedFallbackToRoomID(t *testing.T) {
	r := roomstate.Room{
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "ircbridge"},
			Channel:  roomstate.BridgeChannel{},
		},
	}
	assert.Equal(t, "!abc:ircbridge", Derive("!abc:server", r))
}

func TestDeriveRawRoomIDFallback(t *testing.T) {
	r := roomstate.Room{}
	assert.Equal(t, "!abc:server", Derive("!abc:server", r))
}

func TestDeriveNoNetworkComponent(t *testing.T) {
	r := roomstate.Room{
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "telegram"},
			Channel:  roomstate.BridgeChannel{Name: "announcements"},
		},
	}
	assert.Equal(t, "@announcements:telegram", Derive("!abc:server", r))
}

func TestDeriveIsDeterministic(t *testing.T) {
	r := roomstate.Room{
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "slackgo"},
			Channel:  roomstate.BridgeChannel{Name: "eng team"},
		},
	}
	a := Derive("!abc:server", r)
	b := Derive("!abc:server", r)
	assert.Equal(t, a, b)
}

func TestSanitizeLocalpartSpecialChars(t *testing.T) {
	r := roomstate.Room{
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "whatsapp"},
			Channel:  roomstate.BridgeChannel{Name: "foo@bar baz:qux"},
		},
	}
	assert.Equal(t, "@foo-bar-baz-qux:whatsapp", Derive("!abc:server", r))
}

func TestSanitizeLocalpartAlreadyPrefixed(t *testing.T) {
	r := roomstate.Room{
		BridgeInfo: &roomstate.BridgeInfo{
			Protocol: roomstate.BridgeProtocol{ID: "discordgo"},
			Channel:  roomstate.BridgeChannel{Name: "#already-a-channel"},
		},
	}
	assert.Equal(t, "#already-a-channel:discord", Derive("!abc:server", r))
}
