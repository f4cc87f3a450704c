package matrixclient

import (
	"context"
	"errors"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nethesis/matrix2irc/chanderive"
	"github.com/nethesis/matrix2irc/gwerrors"
	"github.com/nethesis/matrix2irc/matrixstate"
	"github.com/nethesis/matrix2irc/roomstate"
)

// MessageHandler receives a conversational event (m.room.message) for
// delivery to the IRC side. It must be short and non-blocking, per the
// store's callback contract.
type MessageHandler func(roomID id.RoomID, evt *event.Event)

// RoomSyncedHandler fires once per room, the moment its initial sync
// completes (spec.md §3's "synced" flag flipping true for the first
// time). It is the glue's hook for materializing the room as an IRC
// channel; like every store callback it must be short and non-blocking.
type RoomSyncedHandler func(roomID string, room roomstate.Room)

// ChannelRenameHandler fires when a room that already completed its
// initial sync has its canonical alias, bridge info, or display name
// changed in a way that moves chanderive.Derive's output for it. The
// glue uses this to rekey an already-materialized channel (spec.md §2's
// C2->C4 "create, rename, deliver" flow) instead of leaving the store
// holding a room under a name the IRC side never learns about.
type ChannelRenameHandler func(roomID, oldName, newName string, room roomstate.Room)

// Callbacks bundles the glue's event sinks for one RunSync invocation.
// Any field may be nil.
type Callbacks struct {
	OnMessage       MessageHandler
	OnRoomSynced    RoomSyncedHandler
	OnChannelRename ChannelRenameHandler
}

// RunSync drives the long-poll /sync loop: each response's state events
// update store, timeline message events are handed to cb.OnMessage, a
// room completing its first sync fires cb.OnRoomSynced, and the cursor
// advances only after the whole batch is applied. It blocks until ctx is
// cancelled or a non-transient Matrix error occurs.
//
// Transient failures (gwerrors.ErrSyncTransient) are retried with
// exponential backoff and never returned; a fatal failure
// (gwerrors.ErrSyncFatal) is returned immediately so the caller can tear
// down the session, and so is any other error that is neither transient
// nor fatal. A sync call that runs past 2*timeout without
// returning is treated the same as a transient failure: the call is
// abandoned (via a derived, cancelled context) and the loop backs off,
// since spec.md names the long-poll as a suspension point but never
// says what happens when the homeserver stops answering it.
func RunSync(ctx context.Context, cli *Client, store *matrixstate.Store, timeout time.Duration, cb Callbacks) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	watchdog := 2 * timeout

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		resp, err := syncWithWatchdog(ctx, cli, store.PollSinceMarker(), timeout, watchdog)
		if err != nil {
			if errors.Is(err, gwerrors.ErrSyncFatal) {
				return err
			}
			if errors.Is(err, gwerrors.ErrSyncTransient) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
				}
				if backoff *= 2; backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			return err
		}
		backoff = time.Second

		for roomID, joined := range resp.Rooms.Join {
			rid := string(roomID)

			// Register the materialization callback under the room id
			// before applying this batch's events, so the store's own
			// channel-sync table (not a hand-rolled synced check) is what
			// fires it the moment MarkSynced flips the room to synced
			// below. A room already synced never re-registers: the
			// callback table pops and removes its entry the first time it
			// fires, matching the "once per room" contract RoomSyncedHandler
			// documents.
			if cb.OnRoomSynced != nil && !store.RoomSynced(rid) {
				onSynced := cb.OnRoomSynced
				store.QueueOnChannelSync(rid, func(syncedRoomID string, room roomstate.Room) {
					onSynced(syncedRoomID, room)
				})
			}

			for _, evt := range joined.State.Events {
				applyEvent(store, roomID, evt, cb)
			}
			for _, evt := range joined.Timeline.Events {
				applyEvent(store, roomID, evt, cb)
			}

			store.MarkSynced(rid)
		}

		store.UpdatePollSinceMarker(resp.NextBatch)
	}
}

// syncWithWatchdog bounds a single /sync round trip to watchdog wall-clock
// time, on top of the timeout the homeserver itself is asked to long-poll
// for. A homeserver that accepts the request but never answers it (a
// wedged connection, a silently dropped response) would otherwise block
// the loop forever instead of backing off.
func syncWithWatchdog(ctx context.Context, cli *Client, since string, timeout, watchdog time.Duration) (*mautrix.RespSync, error) {
	callCtx, cancel := context.WithTimeout(ctx, watchdog)
	defer cancel()

	resp, err := cli.Sync(callCtx, since, timeout)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, gwerrors.ErrSyncTransient
		}
		return nil, err
	}
	return resp, nil
}

// ApplyStateEvents feeds a batch of already-fetched state events (e.g.
// from Client.GetRoomState, used to backfill a room MJOIN brought into
// the store outside of /sync) into store the same way RunSync applies a
// sync response's state events, so the room is queryable immediately
// instead of waiting for the next long-poll round trip.
func ApplyStateEvents(store *matrixstate.Store, roomID id.RoomID, events []*event.Event) {
	for _, evt := range events {
		applyEvent(store, roomID, evt, Callbacks{})
	}
}

// applyEvent dedupes against store's handled-events set, then updates
// room state or forwards a conversational event to cb.OnMessage. State
// changes that can move chanderive.Derive's output for an already-known
// room (name, canonical alias, bridge info) snapshot the derived name
// before and after the update and fire cb.OnChannelRename when it moved.
func applyEvent(store *matrixstate.Store, roomID id.RoomID, evt *event.Event, cb Callbacks) {
	rid := string(roomID)
	eventID := string(evt.ID)
	if eventID != "" && store.IsEventHandled(rid, eventID) {
		return
	}

	_ = evt.Content.ParseRaw(evt.Type)

	switch evt.Type {
	case event.StateRoomName:
		if c, ok := evt.Content.Parsed.(*event.RoomNameEventContent); ok {
			oldName := derivedName(store, rid)
			name := c.Name
			store.SetName(rid, &name)
			fireRenameIfChanged(store, rid, oldName, cb)
		}
	case event.StateTopic:
		if c, ok := evt.Content.Parsed.(*event.TopicEventContent); ok {
			store.SetTopic(rid, &roomstate.Topic{
				Text:         c.Topic,
				SetterUserID: string(evt.Sender),
				EpochMillis:  evt.Timestamp,
			})
		}
	case event.StateCanonicalAlias:
		if c, ok := evt.Content.Parsed.(*event.CanonicalAliasEventContent); ok {
			oldName := derivedName(store, rid)
			store.SetCanonicalAlias(rid, c.Alias)
			fireRenameIfChanged(store, rid, oldName, cb)
		}
	case event.StateMember:
		if c, ok := evt.Content.Parsed.(*event.MemberEventContent); ok && evt.StateKey != nil {
			userID := *evt.StateKey
			if c.Membership == event.MembershipJoin {
				store.RoomMemberAdd(rid, userID, roomstate.Member{DisplayName: c.Displayname})
			} else {
				store.RoomMemberDel(rid, userID)
			}
		}
	case event.StateCreate:
		if c, ok := evt.Content.Parsed.(*event.CreateEventContent); ok {
			roomType := string(c.Type)
			if roomType != "" {
				store.SetType(rid, &roomType)
			}
		}
	case bridgeEventType:
		if info, ok := decodeBridgeInfo(evt.Content.Raw); ok {
			oldName := derivedName(store, rid)
			store.SetBridgeInfo(rid, &info)
			fireRenameIfChanged(store, rid, oldName, cb)
		}
	case event.EventMessage:
		if cb.OnMessage != nil {
			cb.OnMessage(roomID, evt)
		}
	}

	store.MarkHandledEvent(rid, eventID)
}

// derivedName returns the IRC channel name chanderive would derive for
// rid right now, or its derivation against a zero-valued room if rid is
// not yet known to store.
func derivedName(store *matrixstate.Store, rid string) string {
	_, r, ok := store.RoomFromIRCChannel(rid)
	if !ok {
		r = roomstate.Room{}
	}
	return chanderive.Derive(rid, r)
}

// fireRenameIfChanged compares oldName against rid's current derived
// name and invokes cb.OnChannelRename if a name-affecting state update
// moved it. A room not yet materialized as a channel is a silent no-op
// on the irclifecycle side (Table.Rename only rekeys a record that
// exists), so this fires unconditionally rather than tracking whether
// rid has actually been joined or created yet.
func fireRenameIfChanged(store *matrixstate.Store, rid, oldName string, cb Callbacks) {
	if cb.OnChannelRename == nil {
		return
	}
	_, r, ok := store.RoomFromIRCChannel(rid)
	if !ok {
		return
	}
	newName := chanderive.Derive(rid, r)
	if newName != oldName {
		cb.OnChannelRename(rid, oldName, newName, r)
	}
}
