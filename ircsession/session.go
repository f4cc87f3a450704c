// Package ircsession holds the per-connection IRC registration state:
// nick, registration flag, gecos, negotiated capabilities, the
// connection's private channel table, and client-initiated IRCv3
// batches. Like irclifecycle.Table, every operation is serialized
// through Connection's mutex.
package ircsession

import (
	"sync"

	"github.com/nethesis/matrix2irc/irclifecycle"
	"github.com/nethesis/matrix2irc/ircwire"
)

// batch accumulates a client-initiated IRCv3 batch. Commands are
// prepended internally, so the slice holds them newest first; PopBatch
// reverses it back into insertion order.
type batch struct {
	opening  *ircwire.Command
	reversed []*ircwire.Command
}

// Connection is one IRC client's registration and channel state. The
// zero value is not usable; construct with New.
type Connection struct {
	mu sync.Mutex

	nick         string
	registered   bool
	gecos        string
	capabilities []string

	channels *irclifecycle.Table
	batches  map[string]*batch
}

// New constructs an unregistered Connection with an empty channel
// table bounded at the spec-default replay queue size.
func New() *Connection {
	return NewWithQueueSize(0)
}

// NewWithQueueSize constructs an unregistered Connection whose channel
// table's replay queue is bounded at size (see
// irclifecycle.NewWithQueueSize for the zero/negative fallback).
func NewWithQueueSize(size int) *Connection {
	return &Connection{
		channels: irclifecycle.NewWithQueueSize(size),
		batches:  make(map[string]*batch),
	}
}

// Nick returns the current nick.
func (c *Connection) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// SetNick replaces the current nick.
func (c *Connection) SetNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nick = nick
}

// Registered reports whether registration has completed. The gateway
// sets it once both NICK and USER have arrived, without waiting for
// CAP END.
func (c *Connection) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// SetRegistered flips the registration flag.
func (c *Connection) SetRegistered(registered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = registered
}

// Gecos returns the client's real-name field.
func (c *Connection) Gecos() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gecos
}

// SetGecos replaces the client's real-name field.
func (c *Connection) SetGecos(gecos string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gecos = gecos
}

// Capabilities returns a copy of the negotiated capability list, most
// recently added first.
func (c *Connection) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.capabilities...)
}

// AddCapabilities prepends names to the capability list. Duplicates are
// permitted; they are semantically redundant but harmless.
func (c *Connection) AddCapabilities(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities = append(append([]string{}, names...), c.capabilities...)
}

// Has reports whether name is among the negotiated capabilities,
// satisfying irclifecycle.Capabilities.
func (c *Connection) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cap := range c.capabilities {
		if cap == name {
			return true
		}
	}
	return false
}

// Channels returns the connection's private channel lifecycle table.
func (c *Connection) Channels() *irclifecycle.Table {
	return c.channels
}

// CreateBatch opens a new client-initiated batch under refTag.
func (c *Connection) CreateBatch(refTag string, opening *ircwire.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches[refTag] = &batch{opening: opening}
}

// AddBatchCommand appends cmd to the batch under refTag. A no-op if the
// batch was never created (or already popped).
func (c *Connection) AddBatchCommand(refTag string, cmd *ircwire.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[refTag]
	if !ok {
		return
	}
	b.reversed = append([]*ircwire.Command{cmd}, b.reversed...)
}

// PopBatch removes and returns the batch under refTag: its opening
// command and its member commands in original insertion order.
func (c *Connection) PopBatch(refTag string) (*ircwire.Command, []*ircwire.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[refTag]
	if !ok {
		return nil, nil, false
	}
	delete(c.batches, refTag)

	commands := make([]*ircwire.Command, len(b.reversed))
	for i, cmd := range b.reversed {
		commands[len(b.reversed)-1-i] = cmd
	}
	return b.opening, commands, true
}
