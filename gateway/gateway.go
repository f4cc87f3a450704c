// Package gateway is the IRC command dispatcher: the layer spec.md
// names as an external collaborator to the core (C1-C5) that turns
// parsed IRC commands into operations against irclifecycle/matrixstate
// and renders their numerics back to the client. It owns everything the
// core deliberately excludes: CAP negotiation, SASL, the registration
// burst, WHO/WHOIS, and TOPIC-as-a-command.
package gateway

import (
	"context"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nethesis/matrix2irc/irclifecycle"
	"github.com/nethesis/matrix2irc/ircsession"
	"github.com/nethesis/matrix2irc/ircwire"
	"github.com/nethesis/matrix2irc/logger"
	"github.com/nethesis/matrix2irc/matrixclient"
	"github.com/nethesis/matrix2irc/matrixstate"
)

// MatrixActions is the subset of matrixclient.Client the dispatcher
// needs, kept as an interface so it can be exercised with a fake.
type MatrixActions interface {
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	JoinRoom(ctx context.Context, roomID id.RoomID) error
	SetTopic(ctx context.Context, roomID id.RoomID, topic string) error
	GetRoomState(ctx context.Context, roomID id.RoomID) ([]*event.Event, error)
}

// supportedCapabilities is the set of capabilities CAP REQ may grant.
var supportedCapabilities = map[string]bool{
	"message-tags":      true,
	"batch":             true,
	"account-tag":       true,
	"echo-message":      true,
	"server-time":       true,
	"labeled-response":  true,
	"no_implicit_names": true,
	"channel_rename":    true,
}

// Gateway is one IRC connection's dispatcher: its registration/channel
// state, the Matrix room-state cache it reads from, and the Matrix
// actions it can invoke on the user's behalf.
type Gateway struct {
	Conn   *ircsession.Connection
	Store  *matrixstate.Store
	Matrix MatrixActions

	ServerName string
	Send       func(cmd *ircwire.Command)

	// OnRegistered fires exactly once, as soon as both a nick and a USER
	// real name are known, with whatever password the client supplied
	// over PASS (or SASL PLAIN). A CAP negotiation still in progress does
	// not delay it; CAP END only completes registration if NICK and USER
	// have already arrived. The gateway itself holds no Matrix credentials or client -
	// spec.md scopes SASL and the Matrix HTTP client out of the core, so
	// building the per-session matrixclient.Client and starting its sync
	// loop is left to whoever owns the socket (ircserver).
	OnRegistered func(password string)

	sasl     *saslState
	password string
}

// Identity renders the connection's current nick as an
// irclifecycle.Identity. The gateway does not track a separate
// user/host pair, so the user mirrors the nick and the host is the
// server name. Exported so ircserver can
// build the same identity when driving irclifecycle.Table.Rename from
// the sync loop instead of a dispatched IRC command.
func (g *Gateway) Identity() irclifecycle.Identity {
	nick := g.Conn.Nick()
	return irclifecycle.Identity{Nick: nick, User: nick, Host: g.ServerName, Server: g.ServerName}
}

// HandleLine parses one inbound wire line and dispatches it.
func (g *Gateway) HandleLine(ctx context.Context, line string) {
	cmd, err := ircwire.Parse(line)
	if err != nil {
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "NOTICE", Params: []string{"*", "malformed line"}})
		return
	}
	g.Dispatch(ctx, cmd)
}

// Dispatch routes a parsed command to its handler.
func (g *Gateway) Dispatch(ctx context.Context, cmd *ircwire.Command) {
	switch cmd.Command {
	case "PASS":
		g.handlePass(cmd)
	case "CAP":
		g.handleCap(cmd)
	case "AUTHENTICATE":
		g.handleAuthenticate(cmd)
	case "NICK":
		g.handleNick(cmd)
	case "USER":
		g.handleUser(cmd)
	case "PING":
		g.handlePing(cmd)
	case "JOIN":
		g.handleJoin(ctx, cmd)
	case "PART":
		g.handlePart(cmd)
	case "PRIVMSG", "NOTICE":
		g.handlePrivmsg(ctx, cmd)
	case "TOPIC":
		g.handleTopic(ctx, cmd)
	case "LIST":
		g.handleList(cmd)
	case "MJOIN":
		g.handleMjoin(ctx, cmd)
	case "WHO":
		g.handleWho(cmd)
	case "WHOIS":
		g.handleWhois(cmd)
	default:
		logger.Debug().Str("command", cmd.Command).Msg("gateway: unhandled command")
	}
}

func (g *Gateway) handlePing(cmd *ircwire.Command) {
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "PONG", Params: append([]string{g.ServerName}, cmd.Params...)})
}

// handlePass captures the client-supplied password (typically the
// Matrix account password or an access token, by operator convention)
// for use once registration completes. RFC 1459 sends PASS before
// NICK/USER, so it never needs to trigger maybeCompleteRegistration
// itself.
func (g *Gateway) handlePass(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	g.password = cmd.Params[0]
}

func (g *Gateway) handleNick(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	g.Conn.SetNick(cmd.Params[0])
	g.maybeCompleteRegistration()
}

func (g *Gateway) handleUser(cmd *ircwire.Command) {
	if len(cmd.Params) == 4 {
		g.Conn.SetGecos(cmd.Params[3])
	}
	g.maybeCompleteRegistration()
}

func (g *Gateway) maybeCompleteRegistration() {
	if g.Conn.Registered() || g.Conn.Nick() == "" || g.Conn.Gecos() == "" {
		return
	}
	g.Conn.SetRegistered(true)
	g.sendWelcomeBurst()
	if g.OnRegistered != nil {
		g.OnRegistered(g.password)
	}
}

// sendWelcomeBurst emits the 001-005 registration numerics, per
// spec.md's note that these are produced by the command handler, not
// the core.
func (g *Gateway) sendWelcomeBurst() {
	nick := g.Conn.Nick()
	welcome := func(code string, text string) *ircwire.Command {
		return &ircwire.Command{Source: g.ServerName, Command: code, Params: []string{nick, text}}
	}
	g.Send(welcome("001", "Welcome to the Matrix-IRC gateway, "+nick))
	g.Send(welcome("002", "Your host is "+g.ServerName))
	g.Send(welcome("003", "This server bridges a Matrix homeserver"))
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "004", Params: []string{nick, g.ServerName, "matrix2irc-1.0", "", ""}})
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "005", Params: []string{nick, "CHANTYPES=#&!@", "are supported by this server"}})
}

func (g *Gateway) handleCap(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	switch strings.ToUpper(cmd.Params[0]) {
	case "LS":
		names := make([]string, 0, len(supportedCapabilities))
		for name := range supportedCapabilities {
			names = append(names, name)
		}
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "CAP", Params: []string{"*", "LS", strings.Join(names, " ")}})
	case "REQ":
		if len(cmd.Params) < 2 {
			return
		}
		requested := strings.Fields(cmd.Params[1])
		var accepted []string
		for _, r := range requested {
			if supportedCapabilities[r] {
				accepted = append(accepted, r)
			}
		}
		g.Conn.AddCapabilities(accepted...)
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "CAP", Params: []string{"*", "ACK", strings.Join(accepted, " ")}})
	case "END":
		g.maybeCompleteRegistration()
	}
}

func (g *Gateway) handleList(cmd *ircwire.Command) {
	for _, row := range g.Store.ListRooms() {
		g.Send(&ircwire.Command{
			Source:  g.ServerName,
			Command: "322",
			Params:  []string{g.Conn.Nick(), row.ChannelName, row.MemberCount, row.Topic},
		})
	}
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "323", Params: []string{g.Conn.Nick(), "End of /LIST"}})
}

func (g *Gateway) handleJoin(ctx context.Context, cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	name := cmd.Params[0]

	roomID, room, ok := g.Store.RoomFromIRCChannel(name)
	if !ok {
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "403", Params: []string{g.Conn.Nick(), name, "No such channel"}})
		return
	}

	g.Conn.Channels().Create(name, roomID)
	if err := g.Matrix.JoinRoom(ctx, id.RoomID(roomID)); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("gateway: matrix join failed")
	}
	_ = g.Conn.Channels().Join(name, g.Send, g.Identity(), g.Conn, room)
}

// handleMjoin asks the Matrix side to join a room without materializing
// it as a channel the IRC client sees - the room only becomes a visible
// channel once the user JOINs it. Unlike JOIN, the target here is a raw
// Matrix room id the store does not yet know, so MJOIN backfills the
// room's state immediately via GetRoomState rather than waiting for the
// next /sync round trip to populate name/topic/members. The target is
// used as a room id for the state fetch; an alias is joined but not
// backfilled.
func (g *Gateway) handleMjoin(ctx context.Context, cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	roomID := cmd.Params[0]
	if err := g.Matrix.JoinRoom(ctx, id.RoomID(roomID)); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("gateway: matrix join failed")
		return
	}

	events, err := g.Matrix.GetRoomState(ctx, id.RoomID(roomID))
	if err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("gateway: matrix get room state failed")
		return
	}
	matrixclient.ApplyStateEvents(g.Store, id.RoomID(roomID), events)
}

func (g *Gateway) handlePart(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	name := cmd.Params[0]
	reason := "leaving"
	if len(cmd.Params) > 1 {
		reason = cmd.Params[1]
	}
	_ = g.Conn.Channels().Part(name, reason, g.Send, g.Identity())
}

func (g *Gateway) handlePrivmsg(ctx context.Context, cmd *ircwire.Command) {
	if len(cmd.Params) < 2 {
		return
	}
	name, text := cmd.Params[0], cmd.Params[1]

	roomID, _, ok := g.Store.RoomFromIRCChannel(name)
	if !ok {
		return
	}
	if _, err := g.Matrix.SendMessage(ctx, id.RoomID(roomID), &event.MessageEventContent{MsgType: event.MsgText, Body: text}); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("gateway: send message failed")
	}
}

func (g *Gateway) handleTopic(ctx context.Context, cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	name := cmd.Params[0]
	roomID, _, ok := g.Store.RoomFromIRCChannel(name)
	if !ok {
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "403", Params: []string{g.Conn.Nick(), name, "No such channel"}})
		return
	}

	if len(cmd.Params) < 2 {
		topic := g.Store.RoomTopic(roomID)
		if topic == nil {
			g.Send(&ircwire.Command{Source: g.ServerName, Command: "331", Params: []string{g.Conn.Nick(), name, "No topic is set"}})
			return
		}
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "332", Params: []string{g.Conn.Nick(), name, topic.Text}})
		return
	}

	if err := g.Matrix.SetTopic(ctx, id.RoomID(roomID), cmd.Params[1]); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("gateway: set topic failed")
	}
}

func (g *Gateway) handleWho(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	name := cmd.Params[0]
	roomID, _, ok := g.Store.RoomFromIRCChannel(name)
	if !ok {
		return
	}
	for userID, member := range g.Store.RoomMembers(roomID) {
		g.Send(&ircwire.Command{
			Source:  g.ServerName,
			Command: "352",
			Params:  []string{g.Conn.Nick(), name, userID, g.ServerName, g.ServerName, userID, "H", "0 " + member.DisplayName},
		})
	}
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "315", Params: []string{g.Conn.Nick(), name, "End of /WHO list"}})
}

func (g *Gateway) handleWhois(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	target := cmd.Params[0]
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "311", Params: []string{g.Conn.Nick(), target, target, g.ServerName, "*", target}})
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "318", Params: []string{g.Conn.Nick(), target, "End of /WHOIS list"}})
}

