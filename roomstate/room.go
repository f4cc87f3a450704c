// Package roomstate defines the pure data model for a cached Matrix room:
// the fields the gateway tracks from /sync, with nullable fields modeled
// as pointers rather than sentinel zero values. It has no behavior of its
// own — matrixstate owns mutation, chanderive owns name derivation.
package roomstate

// Topic is the room's current topic, set at most once per sync event.
type Topic struct {
	Text         string
	SetterUserID string
	EpochMillis  int64
}

// BridgeProtocol identifies the foreign protocol a room is bridged to.
type BridgeProtocol struct {
	ID   string
	Name string
}

// BridgeNetwork identifies the foreign network within a protocol, when
// the protocol supports more than one (e.g. Discord guilds).
type BridgeNetwork struct {
	ID   string
	Name string
}

// BridgeChannel identifies the foreign channel/conversation a room
// mirrors.
type BridgeChannel struct {
	ID   string
	Name string
}

// BridgeInfo mirrors the m.bridge state event payload this gateway
// relies on: {protocol: {id, name}, network: {id, name}, channel: {id, name}}.
type BridgeInfo struct {
	Protocol BridgeProtocol
	Network  *BridgeNetwork
	Channel  BridgeChannel
}

// Member is a cached room member: display name and power level, enough
// for NAMES/WHO rendering.
type Member struct {
	DisplayName string
	PowerLevel  int
}

// Room is the cached state of one Matrix room as last applied by sync.
type Room struct {
	CanonicalAlias *string
	Name           *string
	Topic          *Topic
	Type           *string
	Members        map[string]Member
	BridgeInfo     *BridgeInfo
	Synced         bool
}

// Clone returns a deep-enough copy of r so callers can mutate the copy
// (e.g. inside update_room's pure Room -> Room functions) without
// aliasing the store's maps.
func (r Room) Clone() Room {
	out := r
	if r.Members != nil {
		out.Members = make(map[string]Member, len(r.Members))
		for k, v := range r.Members {
			out.Members[k] = v
		}
	}
	return out
}

// IsSpace reports whether the room's type marks it as a space, which
// list_rooms excludes.
func (r Room) IsSpace() bool {
	return r.Type != nil && *r.Type == "m.space"
}
