package matrixclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nethesis/matrix2irc/matrixstate"
	"github.com/nethesis/matrix2irc/roomstate"
)

// newParsedEvent builds a synthetic event with Content.Parsed already
// set so applyEvent's ParseRaw call (a no-op once Parsed is non-nil)
// does not need to decode VeryRaw JSON that these unit tests never set.
func newParsedEvent(evtType event.Type, stateKey *string, parsed any, sender id.UserID, ts int64) *event.Event {
	return &event.Event{
		Type:      evtType,
		StateKey:  stateKey,
		Sender:    sender,
		Timestamp: ts,
		Content:   event.Content{Parsed: parsed},
	}
}

func strp(s string) *string { return &s }

func TestApplyEventRoomName(t *testing.T) {
	store := matrixstate.New()
	evt := newParsedEvent(event.StateRoomName, strp(""), &event.RoomNameEventContent{Name: "General"}, "", 0)
	applyEvent(store, "!abc:server", evt, Callbacks{})
	name := store.RoomName("!abc:server")
	require.NotNil(t, name)
	assert.Equal(t, "General", *name)
}

func TestApplyEventTopic(t *testing.T) {
	store := matrixstate.New()
	evt := newParsedEvent(event.StateTopic, strp(""), &event.TopicEventContent{Topic: "welcome"}, "@alice:server", 5000)
	applyEvent(store, "!abc:server", evt, Callbacks{})
	topic := store.RoomTopic("!abc:server")
	require.NotNil(t, topic)
	assert.Equal(t, "welcome", topic.Text)
	assert.Equal(t, "@alice:server", topic.SetterUserID)
	assert.Equal(t, int64(5000), topic.EpochMillis)
}

func TestApplyEventCanonicalAlias(t *testing.T) {
	store := matrixstate.New()
	evt := newParsedEvent(event.StateCanonicalAlias, strp(""), &event.CanonicalAliasEventContent{Alias: "#general:server"}, "", 0)
	applyEvent(store, "!abc:server", evt, Callbacks{})
	alias := store.RoomCanonicalAlias("!abc:server")
	require.NotNil(t, alias)
	assert.Equal(t, "#general:server", *alias)
}

func TestApplyEventMemberJoinAndLeave(t *testing.T) {
	store := matrixstate.New()

	joinEvt := newParsedEvent(event.StateMember, strp("@bob:server"), &event.MemberEventContent{Membership: event.MembershipJoin, Displayname: "Bob"}, "", 0)
	applyEvent(store, "!abc:server", joinEvt, Callbacks{})

	m, ok := store.RoomMember("!abc:server", "@bob:server")
	require.True(t, ok)
	assert.Equal(t, "Bob", m.DisplayName)

	leaveEvt := newParsedEvent(event.StateMember, strp("@bob:server"), &event.MemberEventContent{Membership: event.MembershipLeave}, "", 0)
	applyEvent(store, "!abc:server", leaveEvt, Callbacks{})

	_, ok = store.RoomMember("!abc:server", "@bob:server")
	assert.False(t, ok)
}

func TestApplyEventDedupesByEventID(t *testing.T) {
	store := matrixstate.New()
	evt := newParsedEvent(event.StateRoomName, strp(""), &event.RoomNameEventContent{Name: "First"}, "", 0)
	evt.ID = "$ev1"
	applyEvent(store, "!abc:server", evt, Callbacks{})

	evt2 := newParsedEvent(event.StateRoomName, strp(""), &event.RoomNameEventContent{Name: "Second"}, "", 0)
	evt2.ID = "$ev1"
	applyEvent(store, "!abc:server", evt2, Callbacks{})

	name := store.RoomName("!abc:server")
	require.NotNil(t, name)
	assert.Equal(t, "First", *name, "duplicate event id must not re-apply")
}

func TestApplyEventMessageDispatchesToHandler(t *testing.T) {
	store := matrixstate.New()
	var gotRoom id.RoomID
	var gotEvt *event.Event

	evt := newParsedEvent(event.EventMessage, nil, &event.MessageEventContent{Body: "hello"}, "@alice:server", 1)
	applyEvent(store, "!abc:server", evt, Callbacks{OnMessage: func(roomID id.RoomID, e *event.Event) {
		gotRoom = roomID
		gotEvt = e
	}})

	assert.Equal(t, id.RoomID("!abc:server"), gotRoom)
	require.NotNil(t, gotEvt)
}

func TestApplyEventCanonicalAliasFiresRenameForAlreadyKnownRoom(t *testing.T) {
	store := matrixstate.New()
	store.SetName("!abc:server", strp("General"))

	var gotRoomID, gotOld, gotNew string
	cb := Callbacks{OnChannelRename: func(roomID, oldName, newName string, room roomstate.Room) {
		gotRoomID, gotOld, gotNew = roomID, oldName, newName
	}}

	evt := newParsedEvent(event.StateCanonicalAlias, strp(""), &event.CanonicalAliasEventContent{Alias: "#general:server"}, "", 0)
	applyEvent(store, "!abc:server", evt, cb)

	assert.Equal(t, "!abc:server", gotRoomID)
	assert.Equal(t, "!abc:server", gotOld)
	assert.Equal(t, "#general:server", gotNew)
}

func TestApplyEventCanonicalAliasDoesNotFireRenameWhenNameUnchanged(t *testing.T) {
	store := matrixstate.New()

	var fired bool
	cb := Callbacks{OnChannelRename: func(roomID, oldName, newName string, room roomstate.Room) {
		fired = true
	}}

	evt := newParsedEvent(event.StateCanonicalAlias, strp(""), &event.CanonicalAliasEventContent{Alias: "!abc:server"}, "", 0)
	applyEvent(store, "!abc:server", evt, cb)

	assert.False(t, fired, "derived name did not change, no rename should fire")
}

func TestApplyEventBridgeInfoFiresRenameForAlreadyKnownRoom(t *testing.T) {
	store := matrixstate.New()
	store.SetName("!abc:server", strp("General"))

	var gotOld, gotNew string
	cb := Callbacks{OnChannelRename: func(roomID, oldName, newName string, room roomstate.Room) {
		gotOld, gotNew = oldName, newName
	}}

	raw := map[string]any{
		"protocol": map[string]any{"id": "discord", "name": "Discord"},
		"channel":  map[string]any{"id": "123", "name": "general"},
	}
	evt := &event.Event{Type: bridgeEventType, Content: event.Content{Raw: raw}}
	applyEvent(store, "!abc:server", evt, cb)

	assert.Equal(t, "!abc:server", gotOld)
	assert.Equal(t, "@general:discord", gotNew)
}
