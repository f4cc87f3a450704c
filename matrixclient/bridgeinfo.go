package matrixclient

import (
	"encoding/json"

	"maunium.net/go/mautrix/event"

	"github.com/nethesis/matrix2irc/roomstate"
)

// bridgeEventType is the state event type the teacher-less upstream
// bridges (Discord/Slack/etc. application services) publish to describe
// the foreign side of a bridged room. mautrix does not ship a typed
// constant for it, so it is declared the way mautrix's own bridge
// libraries declare custom state event types.
var bridgeEventType = event.Type{Type: "m.bridge", Class: event.StateEventType}

type bridgeInfoContent struct {
	Protocol struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"protocol"`
	Network *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"network"`
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
}

// decodeBridgeInfo extracts the {protocol, network, channel} payload
// from an m.bridge state event's raw content. Raw content is decoded
// via a JSON round-trip since mautrix has no typed content struct for
// this non-standard event; this is the same raw-content technique the
// teacher's authclient.go uses to pull an untyped claim out of a JWT
// payload before a fixed schema is known.
func decodeBridgeInfo(raw map[string]any) (roomstate.BridgeInfo, bool) {
	if raw == nil {
		return roomstate.BridgeInfo{}, false
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return roomstate.BridgeInfo{}, false
	}

	var parsed bridgeInfoContent
	if err := json.Unmarshal(data, &parsed); err != nil {
		return roomstate.BridgeInfo{}, false
	}
	if parsed.Protocol.ID == "" && parsed.Protocol.Name == "" {
		return roomstate.BridgeInfo{}, false
	}

	info := roomstate.BridgeInfo{
		Protocol: roomstate.BridgeProtocol{ID: parsed.Protocol.ID, Name: parsed.Protocol.Name},
		Channel:  roomstate.BridgeChannel{ID: parsed.Channel.ID, Name: parsed.Channel.Name},
	}
	if parsed.Network != nil {
		info.Network = &roomstate.BridgeNetwork{ID: parsed.Network.ID, Name: parsed.Network.Name}
	}
	return info, true
}
