// Package irclifecycle tracks the Unknown/Pending/Joined state of every
// IRC channel a connection has materialized from a Matrix room, the
// bounded replay queue a pending channel accumulates, and the JOIN/PART/
// RENAME choreography the gateway plays back to the client. Every
// operation on a Table is serialized through its mutex so compound
// check-then-update sequences (join, rename) are atomic without
// explicit locking at call sites; Send callbacks are invoked only after
// the lock is released.
package irclifecycle

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nethesis/matrix2irc/gwerrors"
	"github.com/nethesis/matrix2irc/ircwire"
	"github.com/nethesis/matrix2irc/roomstate"
)

// MaxQueueSize is the default bound on a pending channel's replay queue.
const MaxQueueSize = 256

// Send delivers one command to the IRC client.
type Send func(cmd *ircwire.Command)

// Capabilities reports whether a session has negotiated a capability by
// name, including the local pseudo-capabilities no_implicit_names and
// channel_rename.
type Capabilities interface {
	Has(name string) bool
}

// Identity is the connecting user's IRC identity, used as the source of
// self-originated JOIN/PART lines and the account tag.
type Identity struct {
	Nick   string
	User   string
	Host   string
	Server string
}

// Source renders the identity as an IRC source prefix: nick!user@host.
func (id Identity) Source() string {
	return id.Nick + "!" + id.User + "@" + id.Host
}

// Channel is one IRC channel's lifecycle record.
type Channel struct {
	RoomID string
	Joined bool
	Queue  []*ircwire.Command
}

// Table is a connection's private channel table.
type Table struct {
	mu       sync.Mutex
	channels map[string]*Channel
	maxQueue int
}

// New constructs an empty Table with the spec-default queue bound.
func New() *Table {
	return NewWithQueueSize(MaxQueueSize)
}

// NewWithQueueSize constructs an empty Table whose per-channel replay
// queue is bounded at size instead of the spec-default MaxQueueSize;
// used by glue code that exposes REPLAY_QUEUE_SIZE as an operator knob.
// A non-positive size falls back to MaxQueueSize.
func NewWithQueueSize(size int) *Table {
	if size <= 0 {
		size = MaxQueueSize
	}
	return &Table{channels: make(map[string]*Channel), maxQueue: size}
}

// Create installs a Pending channel for name if none exists yet.
func (t *Table) Create(name, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[name]; !ok {
		t.channels[name] = &Channel{RoomID: roomID}
	}
}

// Count reports the table's total channel count and how many of those
// are joined. It is a diagnostic accessor only, in the spirit of
// spec.md §9's note that the source's undocumented dump_state is for
// diagnostics, not protocol logic.
func (t *Table) Count() (total, joined int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total = len(t.channels)
	for _, ch := range t.channels {
		if ch.Joined {
			joined++
		}
	}
	return total, joined
}

// Lookup returns a copy of the channel record, if any.
func (t *Table) Lookup(name string) (Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[name]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// Delete removes the channel record, emitting a self-originated PART
// first if the channel was joined.
func (t *Table) Delete(name string, send Send, id Identity) {
	t.mu.Lock()
	ch, ok := t.channels[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	wasJoined := ch.Joined
	delete(t.channels, name)
	t.mu.Unlock()

	if wasJoined {
		send(part(id.Source(), name, "Channel deleted by server"))
	}
}

// Join processes a client JOIN of name. room is the current Matrix room
// snapshot used to build the announce sequence when the channel was not
// already joined. Returns gwerrors.ErrUnknownChannel when name has no
// record (after emitting the 403 numeric); nil otherwise.
func (t *Table) Join(name string, send Send, id Identity, caps Capabilities, room roomstate.Room) error {
	t.mu.Lock()
	ch, ok := t.channels[name]
	if !ok {
		t.mu.Unlock()
		send(numeric(id.Server, "403", id.Nick, name, "No such channel"))
		return gwerrors.ErrUnknownChannel
	}

	if ch.Joined {
		t.mu.Unlock()
		send(&ircwire.Command{Source: id.Server, Command: "ACK"})
		return nil
	}

	queued := ch.Queue
	ch.Queue = nil
	ch.Joined = true
	t.mu.Unlock()

	announce(send, id, name, room, caps)
	for _, cmd := range queued {
		send(cmd)
	}
	return nil
}

// Part processes a client PART of name. Returns gwerrors.ErrUnknownChannel
// or gwerrors.ErrNotJoined after emitting the matching numeric; nil
// otherwise.
func (t *Table) Part(name, reason string, send Send, id Identity) error {
	t.mu.Lock()
	ch, ok := t.channels[name]
	if !ok {
		t.mu.Unlock()
		send(numeric(id.Server, "403", id.Nick, name, "No such channel"))
		return gwerrors.ErrUnknownChannel
	}
	if !ch.Joined {
		t.mu.Unlock()
		send(numeric(id.Server, "442", id.Nick, name, "You can't part a channel you aren't in"))
		return gwerrors.ErrNotJoined
	}
	ch.Joined = false
	t.mu.Unlock()

	send(part(id.Source(), name, reason))
	return nil
}

// Rename rekeys the channel record from old to new. If the channel was
// not joined the rekey is silent. Otherwise, when the session negotiated
// channel_rename, a single RENAME command is emitted; else the rename is
// emulated with an announce of new, a PART of old, and a NOTICE on new.
func (t *Table) Rename(old, newName string, send Send, id Identity, caps Capabilities, room roomstate.Room) {
	t.mu.Lock()
	ch, ok := t.channels[old]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.channels, old)
	t.channels[newName] = ch
	joined := ch.Joined
	t.mu.Unlock()

	if !joined {
		return
	}

	if caps.Has("channel_rename") {
		send(&ircwire.Command{
			Source:  id.Server,
			Command: "RENAME",
			Params:  []string{old, newName, "Channel renamed"},
		})
		return
	}

	announce(send, id, newName, room, caps)
	send(part(id.Source(), old, "Channel renamed to "+newName))
	send(&ircwire.Command{
		Source:  id.Server,
		Command: "NOTICE",
		Params:  []string{newName, "Channel renamed from " + old},
	})
}

// SendTo is the event-delivery entry point. An unknown or joined channel
// passes cmd straight to write; a pending channel queues cmd if it is
// queueable (PRIVMSG/NOTICE), dropping the oldest entry past the
// table's queue bound, and silently drops everything else.
func (t *Table) SendTo(name string, cmd *ircwire.Command, write Send) {
	t.mu.Lock()
	ch, ok := t.channels[name]
	if !ok {
		t.mu.Unlock()
		write(cmd)
		return
	}
	if ch.Joined {
		t.mu.Unlock()
		write(cmd)
		return
	}
	if isQueueable(cmd.Command) {
		ch.Queue = append(ch.Queue, cmd)
		if len(ch.Queue) > t.maxQueue {
			ch.Queue = ch.Queue[len(ch.Queue)-t.maxQueue:]
		}
	}
	t.mu.Unlock()
}

func isQueueable(command string) bool {
	return command == "PRIVMSG" || command == "NOTICE"
}

func joinLine(id Identity, name string) *ircwire.Command {
	return &ircwire.Command{
		Tags:    map[string]string{"account": id.Nick},
		Source:  id.Source(),
		Command: "JOIN",
		Params:  []string{name},
	}
}

func part(source, name, reason string) *ircwire.Command {
	return &ircwire.Command{
		Source:  source,
		Command: "PART",
		Params:  []string{name, reason},
	}
}

func numeric(server, code, nick string, rest ...string) *ircwire.Command {
	return &ircwire.Command{
		Source:  server,
		Command: code,
		Params:  append([]string{nick}, rest...),
	}
}

// announce plays back the JOIN / topic numerics / optional NAMES
// sequence for channel name bound to room, per the self identity id.
func announce(send Send, id Identity, name string, room roomstate.Room, caps Capabilities) {
	send(joinLine(id, name))

	composite, hasComposite := composeTopic(room)
	if !hasComposite {
		send(numeric(id.Server, "331", id.Nick, name, "No topic is set"))
	} else {
		send(numeric(id.Server, "332", id.Nick, name, composite))
		if room.Topic != nil {
			epochSeconds := strconv.FormatInt(room.Topic.EpochMillis/1000, 10)
			send(numeric(id.Server, "333", id.Nick, name, room.Topic.SetterUserID, epochSeconds))
		}
	}

	if caps.Has("no_implicit_names") {
		return
	}

	for _, cmd := range namesReplies(id, name, room) {
		send(cmd)
	}
	send(numeric(id.Server, "366", id.Nick, name, "End of /NAMES list"))
}

func composeTopic(room roomstate.Room) (string, bool) {
	var parts []string
	if room.Name != nil && *room.Name != "" {
		parts = append(parts, "["+*room.Name+"]")
	}
	if room.Topic != nil && room.Topic.Text != "" {
		parts = append(parts, room.Topic.Text)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// namesReplies renders the 353 lines for room's members, sorted
// lexicographically and packed to stay within the 512-byte wire budget.
func namesReplies(id Identity, name string, room roomstate.Room) []*ircwire.Command {
	userIDs := make([]string, 0, len(room.Members))
	for userID := range room.Members {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	rendered := make([]string, len(userIDs))
	for i, userID := range userIDs {
		rendered[i] = ircwire.EscapeSpaces(renderMemberNick(userID))
	}

	buildLine := func(chunk []string) string {
		cmd := numeric(id.Server, "353", id.Nick, "=", name, strings.Join(chunk, " "))
		return cmd.Serialize()
	}

	lines := ircwire.WordWrap(rendered, buildLine)
	out := make([]*ircwire.Command, 0, len(lines))
	for _, line := range lines {
		cmd, err := ircwire.Parse(line)
		if err != nil {
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// renderMemberNick renders a Matrix user id as user_id!localpart@server,
// where (localpart, server) is the user id split on its first ':'.
func renderMemberNick(userID string) string {
	localpart, server := splitUserID(userID)
	return userID + "!" + localpart + "@" + server
}

func splitUserID(userID string) (localpart, server string) {
	if i := strings.IndexByte(userID, ':'); i != -1 {
		return userID[:i], userID[i+1:]
	}
	return userID, ""
}
