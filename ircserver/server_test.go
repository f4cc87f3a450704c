package ircserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nethesis/matrix2irc/gateway"
	"github.com/nethesis/matrix2irc/ircsession"
	"github.com/nethesis/matrix2irc/ircwire"
	"github.com/nethesis/matrix2irc/matrixstate"
	"github.com/nethesis/matrix2irc/roomstate"
)

func newTestSession() *session {
	s := &session{
		remoteAddr: "127.0.0.1:1234",
		conn:       ircsession.New(),
		store:      matrixstate.New(),
	}
	s.send = func(cmd *ircwire.Command) {}
	s.gw = &gateway.Gateway{Conn: s.conn, ServerName: "server.", Send: s.send}
	return s
}

func TestMaterializeChannelInstallsPendingRecordByDerivedName(t *testing.T) {
	s := newTestSession()

	alias := "#general:server"
	s.materializeChannel("!abc:server", roomstate.Room{CanonicalAlias: &alias})

	ch, ok := s.conn.Channels().Lookup("#general:server")
	require.True(t, ok)
	assert.False(t, ch.Joined)
	assert.Equal(t, "!abc:server", ch.RoomID)
}

func TestRenameChannelEmitsRenameWhenCapabilityNegotiated(t *testing.T) {
	s := newTestSession()
	var sent []*ircwire.Command
	s.send = func(cmd *ircwire.Command) { sent = append(sent, cmd) }

	s.conn.Channels().Create("!abc:server", "!abc:server")
	require.NoError(t, s.conn.Channels().Join("!abc:server", s.send, s.gw.Identity(), s.conn, roomstate.Room{}))
	sent = nil

	s.conn.AddCapabilities("channel_rename")
	s.renameChannel("!abc:server", "!abc:server", "#general:server", roomstate.Room{})

	require.Len(t, sent, 1)
	assert.Equal(t, "RENAME", sent[0].Command)
	assert.Equal(t, []string{"!abc:server", "#general:server", "Channel renamed"}, sent[0].Params)

	_, ok := s.conn.Channels().Lookup("#general:server")
	assert.True(t, ok)
	_, ok = s.conn.Channels().Lookup("!abc:server")
	assert.False(t, ok)
}

func TestDeliverMessageQueuesUntilJoined(t *testing.T) {
	s := newTestSession()
	var sent []*ircwire.Command
	s.send = func(cmd *ircwire.Command) { sent = append(sent, cmd) }

	alias := "#general:server"
	s.store.UpdateRoom("!abc:server", func(r roomstate.Room) roomstate.Room {
		r.CanonicalAlias = &alias
		return r
	})
	s.conn.Channels().Create("#general:server", "!abc:server")

	evt := &event.Event{
		Sender:    "@alice:server",
		Timestamp: 1000,
		Content:   event.Content{Parsed: &event.MessageEventContent{Body: "hi"}},
	}
	s.deliverMessage(id.RoomID("!abc:server"), evt)

	assert.Empty(t, sent, "message must queue, not deliver, before JOIN")
}

func TestSessionSnapshotReportsChannelCounts(t *testing.T) {
	s := newTestSession()
	s.conn.Channels().Create("#a", "!a:server")
	s.conn.Channels().Create("#b", "!b:server")

	snap := s.snapshot()
	assert.Equal(t, 2, snap.ChannelCount)
	assert.Equal(t, 0, snap.JoinedChannels)
}

func TestServerTracksSessions(t *testing.T) {
	srv := New(Config{ListenAddr: ":0", ServerName: "server."})
	s := newTestSession()
	srv.track(s)

	snaps := srv.Sessions()
	require.Len(t, snaps, 1)
	assert.Equal(t, "127.0.0.1:1234", snaps[0].RemoteAddr)

	srv.untrack(s)
	assert.Empty(t, srv.Sessions())
}
