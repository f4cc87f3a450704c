// Package chanderive derives a stable, human-readable IRC channel name
// from a Matrix room's cached state. Derive is pure: identical inputs
// produce identical output, and it touches only the fields enumerated in
// the room-naming precedence below.
package chanderive

import (
	"regexp"
	"strings"

	"github.com/nethesis/matrix2irc/roomstate"
)

// protocolAliases maps a bridge protocol id to the short token used in
// derived channel names, falling back to protocol.name when unmapped.
var protocolAliases = map[string]string{
	"discordgo":  "discord",
	"discord":    "discord",
	"googlechat": "gchat",
	"slackgo":    "slack",
	"whatsapp":   "whatsapp",
	"telegram":   "telegram",
}

// networkAliases maps a bridge network id to the short token used in
// derived channel names, falling back to network.name when unmapped.
var networkAliases = map[string]string{}

var nonTokenRun = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Derive computes the IRC channel name for a room by the precedence
// specified in §4.3: canonical alias, then bridge-derived name, then the
// raw room id.
func Derive(roomID string, r roomstate.Room) string {
	if r.CanonicalAlias != nil && *r.CanonicalAlias != "" {
		return *r.CanonicalAlias
	}

	if r.BridgeInfo != nil {
		return deriveBridged(roomID, r, *r.BridgeInfo)
	}

	return roomID
}

func deriveBridged(roomID string, r roomstate.Room, info roomstate.BridgeInfo) string {
	localSource := info.Channel.Name
	if localSource == "" && r.Name != nil {
		localSource = *r.Name
	}
	if localSource == "" {
		localSource = stripServerPart(roomID)
	}
	local := sanitizeLocalpart(localSource)

	remote := remotePart(info)

	return local + ":" + remote
}

// stripServerPart removes everything from the first ':' onward, turning
// "!abc:server" into "!abc".
func stripServerPart(roomID string) string {
	if i := strings.IndexByte(roomID, ':'); i != -1 {
		return roomID[:i]
	}
	return roomID
}

// sanitizeLocalpart replaces '@', ' ', ':' with '-' and ensures the
// result begins with one of '#', '!', '&', '@' (defaulting to '@', which
// marks a bridged direct message).
func sanitizeLocalpart(s string) string {
	replacer := strings.NewReplacer("@", "-", " ", "-", ":", "-")
	s = replacer.Replace(s)

	if s == "" {
		return "@"
	}
	switch s[0] {
	case '#', '!', '&', '@':
		return s
	default:
		return "@" + s
	}
}

func remotePart(info roomstate.BridgeInfo) string {
	protocol, ok := protocolAliases[info.Protocol.ID]
	if !ok {
		protocol = info.Protocol.Name
		if protocol == "" {
			protocol = info.Protocol.ID
		}
	}
	protocol = sanitizeToken(protocol)

	network := ""
	if info.Network != nil {
		n, ok := networkAliases[info.Network.ID]
		if !ok {
			n = info.Network.Name
			if n == "" {
				n = info.Network.ID
			}
		}
		network = sanitizeToken(n)
	}

	if network == "" {
		return protocol
	}
	return network + "." + protocol
}

// sanitizeToken collapses any run of characters outside [A-Za-z0-9_-]
// into a single '-'.
func sanitizeToken(s string) string {
	return nonTokenRun.ReplaceAllString(s, "-")
}
