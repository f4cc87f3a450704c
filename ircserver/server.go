// Package ircserver owns the one external collaborator spec.md leaves
// fully unspecified: the TCP/TLS listener. It accepts IRC connections,
// gives each its own Matrix session (matrixclient.Client, the room
// cache, the channel table, the connection state), and drives the
// long-poll sync loop that feeds Matrix events to the gateway's IRC
// writer. Closing the socket cancels the connection's sync loop and
// releases its stores, matching spec.md §5's cancellation contract.
package ircserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nethesis/matrix2irc/adminhttp"
	"github.com/nethesis/matrix2irc/chanderive"
	"github.com/nethesis/matrix2irc/gateway"
	"github.com/nethesis/matrix2irc/ircsession"
	"github.com/nethesis/matrix2irc/ircwire"
	"github.com/nethesis/matrix2irc/logger"
	"github.com/nethesis/matrix2irc/matrixclient"
	"github.com/nethesis/matrix2irc/matrixstate"
	"github.com/nethesis/matrix2irc/roomstate"
)

// Config configures the listener and the per-session Matrix client it
// builds once a client registers.
type Config struct {
	ListenAddr      string
	TLSCert         string
	TLSKey          string
	ServerName      string
	HomeserverURL   string
	LoginType       string
	SyncTimeout     time.Duration
	ReplayQueueSize int
}

// Server accepts IRC connections and owns the live session registry the
// admin sidecar reports on.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// New constructs a Server from cfg. Call Serve to start accepting.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, sessions: make(map[*session]struct{})}
}

// Serve accepts connections on cfg.ListenAddr until ctx is cancelled or
// the listener fails. Each accepted connection is handled in its own
// goroutine and never blocks the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.TLSCert == "" {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, &tls.Config{Certificates: []tls.Certificate{cert}})
}

// Sessions implements adminhttp.Registry.
func (s *Server) Sessions() []adminhttp.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]adminhttp.SessionSnapshot, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// session is one accepted IRC connection's private Matrix session: its
// own room-state store, channel table, connection state, and (once
// registered) Matrix client and sync loop. Nothing here is shared with
// any other session, per spec.md §5's per-connection isolation.
type session struct {
	remoteAddr string
	conn       *ircsession.Connection
	store      *matrixstate.Store
	gw         *gateway.Gateway
	log        zerolog.Logger

	writeMu sync.Mutex
	writer  *bufio.Writer

	// send is how the session delivers a command to its client. It
	// defaults to writing the serialized line to the socket; tests
	// override it to capture commands instead.
	send func(cmd *ircwire.Command)

	cancelSync context.CancelFunc
}

func (s *session) snapshot() adminhttp.SessionSnapshot {
	total, joined := s.conn.Channels().Count()
	return adminhttp.SessionSnapshot{
		RemoteAddr:     s.remoteAddr,
		Nick:           s.conn.Nick(),
		Registered:     s.conn.Registered(),
		ChannelCount:   total,
		JoinedChannels: joined,
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		remoteAddr: conn.RemoteAddr().String(),
		conn:       ircsession.NewWithQueueSize(s.cfg.ReplayQueueSize),
		store:      matrixstate.New(),
		writer:     bufio.NewWriter(conn),
		cancelSync: cancel,
	}
	sess.send = sess.writeToSocket
	sess.log = logger.Session(sess.remoteAddr, "")

	sess.gw = &gateway.Gateway{
		Conn:       sess.conn,
		Store:      sess.store,
		ServerName: s.cfg.ServerName,
		Send:       sess.send,
	}
	sess.gw.OnRegistered = func(password string) {
		go s.startMatrixSession(connCtx, sess, password)
	}

	s.track(sess)
	defer s.untrack(sess)

	sess.log.Info().Msg("ircserver: connection accepted")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sess.gw.HandleLine(connCtx, scanner.Text())
	}

	sess.log.Info().Msg("ircserver: connection closed")
}

// writeToSocket serializes and writes one command to the client,
// terminated with the wire CRLF. Writes are serialized through writeMu
// since the sync loop and the read loop both call it.
func (s *session) writeToSocket(cmd *ircwire.Command) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.WriteString(cmd.Serialize()); err != nil {
		return
	}
	if _, err := s.writer.WriteString("\r\n"); err != nil {
		return
	}
	_ = s.writer.Flush()
}

// startMatrixSession builds the per-connection matrixclient.Client
// against the user's just-negotiated identity and launches its sync
// loop. It runs in its own goroutine so registration never blocks on
// the Matrix login round trip.
func (s *Server) startMatrixSession(ctx context.Context, sess *session, password string) {
	userID := id.UserID(sess.conn.Nick())
	sess.log = logger.Session(sess.remoteAddr, sess.conn.Nick())

	cli, err := matrixclient.New(ctx, matrixclient.Config{
		HomeserverURL: s.cfg.HomeserverURL,
		UserID:        userID,
		LoginType:     s.cfg.LoginType,
		Password:      password,
		Token:         password,
		DeviceID:      "irc-" + uuid.NewString(),
	})
	if err != nil {
		sess.log.Warn().Err(err).Msg("ircserver: matrix login failed")
		sess.send(&ircwire.Command{Source: s.cfg.ServerName, Command: "NOTICE", Params: []string{sess.conn.Nick(), "Matrix login failed"}})
		return
	}

	sess.gw.Matrix = cli

	err = matrixclient.RunSync(ctx, cli, sess.store, s.cfg.SyncTimeout, matrixclient.Callbacks{
		OnMessage:       sess.deliverMessage,
		OnRoomSynced:    sess.materializeChannel,
		OnChannelRename: sess.renameChannel,
	})
	if err != nil {
		sess.log.Warn().Err(err).Msg("ircserver: sync loop ended")
		sess.send(&ircwire.Command{Source: s.cfg.ServerName, Command: "NOTICE", Params: []string{sess.conn.Nick(), "Matrix session ended"}})
	}
}

// materializeChannel installs the Pending channel record for a room the
// moment its initial sync completes, keyed by the name chanderive would
// derive for it right now, so a subsequent IRC JOIN of that name
// resolves. This is the C2->C4 glue spec.md's system overview allots a
// share of the core's budget to.
func (s *session) materializeChannel(roomID string, room roomstate.Room) {
	name := chanderive.Derive(roomID, room)
	s.conn.Channels().Create(name, roomID)
}

// renameChannel rekeys an already-materialized channel when its room's
// canonical alias, bridge info, or display name changes chanderive's
// output after the room was first synced (spec.md §2's C2->C4 "rename"
// leg, and the two rename scenarios in spec.md §8). Table.Rename is a
// no-op if oldName has no record, so this is safe to call for a room
// nobody has JOINed yet.
func (s *session) renameChannel(roomID, oldName, newName string, room roomstate.Room) {
	s.conn.Channels().Rename(oldName, newName, s.send, s.gw.Identity(), s.conn, room)
}

// deliverMessage renders an m.room.message event as a PRIVMSG and routes
// it through the channel table, which queues it if the user has not
// joined yet.
func (s *session) deliverMessage(roomID id.RoomID, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	rid := string(roomID)
	_, room, ok := s.store.RoomFromIRCChannel(rid)
	if !ok {
		return
	}
	name := chanderive.Derive(rid, room)

	cmd := &ircwire.Command{
		Tags:    map[string]string{"server-time": strconv.FormatInt(evt.Timestamp, 10)},
		Source:  string(evt.Sender),
		Command: "PRIVMSG",
		Params:  []string{name, content.Body},
	}
	s.conn.Channels().SendTo(name, cmd, s.send)
}
