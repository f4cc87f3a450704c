// Package matrixstate is the per-connection, in-memory cache of Matrix
// room state fed by the /sync long-poll loop: members, name, topic,
// canonical alias, bridge info, type, and the sync-completion flag, plus
// the sync cursor and its per-batch event dedup set. All operations are
// serialized through Store's mutex, so compound check-then-update
// sequences are atomic without explicit locking at call sites.
package matrixstate

import (
	"sort"
	"strconv"
	"sync"

	"github.com/nethesis/matrix2irc/chanderive"
	"github.com/nethesis/matrix2irc/roomstate"
)

// ChannelSyncCallback fires once, the first time a room completes its
// initial sync, with the room id and its state at that moment.
type ChannelSyncCallback func(roomID string, room roomstate.Room)

// RoomListEntry is one row of list_rooms: the derived channel name, the
// member count as a decimal string, and the topic text (or empty).
type RoomListEntry struct {
	ChannelName string
	MemberCount string
	Topic       string
}

// Store is the room-state cache for one Matrix session. The zero value
// is not usable; construct with New.
type Store struct {
	mu sync.Mutex

	rooms     map[string]roomstate.Room
	callbacks map[string][]ChannelSyncCallback

	since         string
	handledEvents map[string]map[string]bool
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		rooms:         make(map[string]roomstate.Room),
		callbacks:     make(map[string][]ChannelSyncCallback),
		handledEvents: make(map[string]map[string]bool),
	}
}

func (s *Store) getOrZero(roomID string) roomstate.Room {
	r, ok := s.rooms[roomID]
	if !ok {
		return roomstate.Room{}
	}
	return r
}

// UpdateRoom applies f to the room's current state (or a zero-valued
// room if unseen) and writes back the result.
func (s *Store) UpdateRoom(roomID string, f func(roomstate.Room) roomstate.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = f(s.getOrZero(roomID))
}

// SetCanonicalAlias updates the room's canonical alias. If the room is
// already synced, any callbacks registered under the new alias fire
// synchronously. Returns the previous alias, if any.
func (s *Store) SetCanonicalAlias(roomID, alias string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrZero(roomID)
	previous := r.CanonicalAlias
	a := alias
	r.CanonicalAlias = &a
	s.rooms[roomID] = r

	if r.Synced {
		s.fireLocked(alias, roomID, r)
	}

	return previous
}

// SetBridgeInfo sets the room's bridge_info field.
func (s *Store) SetBridgeInfo(roomID string, info *roomstate.BridgeInfo) {
	s.UpdateRoom(roomID, func(r roomstate.Room) roomstate.Room {
		r.BridgeInfo = info
		return r
	})
}

// SetName sets the room's display name.
func (s *Store) SetName(roomID string, name *string) {
	s.UpdateRoom(roomID, func(r roomstate.Room) roomstate.Room {
		r.Name = name
		return r
	})
}

// SetTopic sets the room's topic.
func (s *Store) SetTopic(roomID string, topic *roomstate.Topic) {
	s.UpdateRoom(roomID, func(r roomstate.Room) roomstate.Room {
		r.Topic = topic
		return r
	})
}

// SetType sets the room's m.room.create type field.
func (s *Store) SetType(roomID string, t *string) {
	s.UpdateRoom(roomID, func(r roomstate.Room) roomstate.Room {
		r.Type = t
		return r
	})
}

// RoomMemberAdd inserts the member only if absent. Returns whether the
// member was already present (in which case nothing changed).
func (s *Store) RoomMemberAdd(roomID, userID string, m roomstate.Member) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrZero(roomID).Clone()
	if r.Members == nil {
		r.Members = make(map[string]roomstate.Member)
	}
	if _, existed := r.Members[userID]; existed {
		s.rooms[roomID] = r
		return true
	}
	r.Members[userID] = m
	s.rooms[roomID] = r
	return false
}

// RoomMemberDel deletes the member only if present. Returns whether the
// member was present before the call.
func (s *Store) RoomMemberDel(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrZero(roomID).Clone()
	if _, existed := r.Members[userID]; !existed {
		return false
	}
	delete(r.Members, userID)
	s.rooms[roomID] = r
	return true
}

// RoomMembers returns a copy of the room's member map.
func (s *Store) RoomMembers(roomID string) map[string]roomstate.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrZero(roomID).Clone().Members
}

// RoomMember returns a single member record, if present.
func (s *Store) RoomMember(roomID, userID string) (roomstate.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.getOrZero(roomID).Members[userID]
	return m, ok
}

// RoomName returns the room's cached display name, or nil.
func (s *Store) RoomName(roomID string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrZero(roomID).Name
}

// RoomTopic returns the room's cached topic, or nil.
func (s *Store) RoomTopic(roomID string) *roomstate.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrZero(roomID).Topic
}

// RoomType returns the room's cached type, or nil.
func (s *Store) RoomType(roomID string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrZero(roomID).Type
}

// RoomCanonicalAlias returns the room's cached canonical alias, or nil.
func (s *Store) RoomCanonicalAlias(roomID string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrZero(roomID).CanonicalAlias
}

// RoomSynced reports whether roomID has completed its initial sync.
// Glue code uses this to fire "room became available" work exactly
// once, since MarkSynced itself is safe to call repeatedly.
func (s *Store) RoomSynced(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrZero(roomID).Synced
}

// ListRooms returns one entry per non-space room, in unspecified order.
func (s *Store) ListRooms() []RoomListEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RoomListEntry, 0, len(s.rooms))
	for roomID, r := range s.rooms {
		if r.IsSpace() {
			continue
		}
		topic := ""
		if r.Topic != nil {
			topic = r.Topic.Text
		}
		out = append(out, RoomListEntry{
			ChannelName: chanderive.Derive(roomID, r),
			MemberCount: strconv.Itoa(len(r.Members)),
			Topic:       topic,
		})
	}
	return out
}

// RoomFromIRCChannel resolves an IRC channel name to its room id and
// state. It matches, per room, on canonical alias, room id, or derived
// channel name, returning the first match in (unspecified) iteration
// order.
func (s *Store) RoomFromIRCChannel(name string) (string, roomstate.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(name)
}

func (s *Store) resolveLocked(name string) (string, roomstate.Room, bool) {
	if r, ok := s.rooms[name]; ok {
		return name, r, true
	}
	for roomID, r := range s.rooms {
		if r.CanonicalAlias != nil && *r.CanonicalAlias == name {
			return roomID, r, true
		}
		if chanderive.Derive(roomID, r) == name {
			return roomID, r, true
		}
	}
	return "", roomstate.Room{}, false
}

// QueueOnChannelSync fires cb synchronously if the named room (channel
// name or room id) already exists and is synced; otherwise cb is
// deferred until mark_synced fires it.
func (s *Store) QueueOnChannelSync(name string, cb ChannelSyncCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID, r, ok := s.resolveLocked(name); ok && r.Synced {
		cb(roomID, r)
		return
	}
	s.callbacks[name] = append(s.callbacks[name], cb)
}

// MarkSynced sets the room's synced flag and fires every callback
// registered under the room id or its current canonical alias. Callbacks
// fired here never observe synced=false.
func (s *Store) MarkSynced(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrZero(roomID)
	r.Synced = true
	s.rooms[roomID] = r

	s.fireLocked(roomID, roomID, r)
	if r.CanonicalAlias != nil {
		s.fireLocked(*r.CanonicalAlias, roomID, r)
	}
}

// fireLocked pops and invokes every callback under key, swallowing any
// panic from an individual callback so one faulty callback cannot block
// the rest of the batch. Must be called with mu held.
func (s *Store) fireLocked(key, roomID string, r roomstate.Room) {
	cbs := s.callbacks[key]
	if len(cbs) == 0 {
		return
	}
	delete(s.callbacks, key)
	for _, cb := range cbs {
		invokeSafely(cb, roomID, r)
	}
}

func invokeSafely(cb ChannelSyncCallback, roomID string, r roomstate.Room) {
	defer func() { _ = recover() }()
	cb(roomID, r)
}

// PollSinceMarker returns the current sync cursor.
func (s *Store) PollSinceMarker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since
}

// UpdatePollSinceMarker advances the sync cursor and clears the
// handled-events dedup set.
func (s *Store) UpdatePollSinceMarker(newSince string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = newSince
	s.handledEvents = make(map[string]map[string]bool)
}

// HandledEvents returns the set of event ids recorded as handled for
// roomID during the current since-window, sorted for determinism.
func (s *Store) HandledEvents(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.handledEvents[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsEventHandled reports whether eventID was already recorded as handled
// for roomID in the current window.
func (s *Store) IsEventHandled(roomID, eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handledEvents[roomID][eventID]
}

// MarkHandledEvent records eventID as handled for roomID. It is
// idempotent and a no-op when eventID is empty.
func (s *Store) MarkHandledEvent(roomID, eventID string) {
	if eventID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handledEvents[roomID] == nil {
		s.handledEvents[roomID] = make(map[string]bool)
	}
	s.handledEvents[roomID][eventID] = true
}
