// Package session tracks connected clients: naming, presence, visibility,
// and inter-client routing of command traffic.
//
// Delivery is fire-and-forget. A frame that cannot be delivered is
// dropped; nothing at this layer acknowledges, retries, or persists
// undelivered messages.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/clock"
)

// Conn is the transport handle of one connected client. Send encodes and
// writes a frame best-effort; implementations log failures and never block
// the caller.
type Conn interface {
	ID() string
	Send(event string, args ...any)
}

// colors is the fixed presence palette per device class.
var colors = map[string]string{
	"desktop":    "#17ad17",
	"laptop":     "#009deb",
	"tablet":     "#ff27ff",
	"mobile":     "#9900ff",
	"television": "#808080",
}

type member struct {
	conn   Conn
	client *Client
}

// Registry is the session registry. All exported methods are safe for
// concurrent use.
type Registry struct {
	mu sync.Mutex

	logger *zap.Logger
	clock  clock.Clock

	// conns holds every open connection, handshaked or not.
	conns map[string]Conn
	// members holds handshaked clients by display name.
	members map[string]*member
	// byConn maps connection id to member for handshaked connections.
	byConn map[string]*member
	// classCounters assigns per-device-class name suffixes. Counters only
	// increment, so a name is never handed out twice.
	classCounters map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, clk clock.Clock) *Registry {
	return &Registry{
		logger:        logger,
		clock:         clk,
		conns:         make(map[string]Conn),
		members:       make(map[string]*member),
		byConn:        make(map[string]*member),
		classCounters: make(map[string]int),
	}
}

// Register tracks a freshly opened connection that has not handshaked yet.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Handshake completes the connection handshake. If the proposed name is
// empty or taken, a per-device-class name is allocated. The presence color
// is assigned from the device palette. Returns the client's own record and
// a snapshot of the currently visible peers, and announces the new client
// to everyone else.
func (r *Registry) Handshake(conn Conn, client *Client) (*Client, []Client) {
	r.mu.Lock()

	if client.Name == "" || r.members[client.Name] != nil {
		client.Name = r.allocateNameLocked(client.DeviceType)
	}
	client.Color = colors[client.DeviceType]

	peers := r.visibleLocked()

	m := &member{conn: conn, client: client}
	r.conns[conn.ID()] = conn
	r.members[client.Name] = m
	r.byConn[conn.ID()] = m
	r.mu.Unlock()

	r.Broadcast(conn, "clientConnected", client)
	r.logger.Info("client connected",
		zap.String("name", client.Name),
		zap.String("deviceType", client.DeviceType))
	return client, peers
}

// allocateNameLocked returns the next free auto-assigned name for a device
// class. The first client of a class gets the bare class name.
func (r *Registry) allocateNameLocked(deviceType string) string {
	for {
		count := r.classCounters[deviceType] + 1
		r.classCounters[deviceType] = count
		name := deviceType
		if count > 1 {
			name = fmt.Sprintf("%s %d", deviceType, count)
		}
		if r.members[name] == nil {
			return name
		}
	}
}

// UpdateClient applies a key/value update to a client's record and echoes
// it to every connection, the originator included. A rename to a taken
// name is dropped silently. View updates are stamped with the wall-clock
// time for recency ordering. Updates from hidden clients are ignored.
func (r *Registry) UpdateClient(name, key string, value json.RawMessage) {
	r.mu.Lock()
	m := r.members[name]
	if m == nil || m.client.Hidden {
		r.mu.Unlock()
		return
	}

	switch key {
	case "name":
		var newName string
		if err := json.Unmarshal(value, &newName); err != nil {
			r.mu.Unlock()
			r.logger.Warn("invalid rename value", zap.String("client", name), zap.Error(err))
			return
		}
		if r.members[newName] != nil {
			r.mu.Unlock()
			return
		}
		r.members[newName] = m
		delete(r.members, name)
		m.client.Name = newName
	case "views":
		var views []View
		if err := json.Unmarshal(value, &views); err != nil {
			r.mu.Unlock()
			r.logger.Warn("invalid views value", zap.String("client", name), zap.Error(err))
			return
		}
		if len(views) > 0 {
			views[0].Time = r.clock.Now().UnixMilli()
		}
		m.client.Views = views
		stamped, err := json.Marshal(views)
		if err == nil {
			value = stamped
		}
	default:
		if m.client.Extra == nil {
			m.client.Extra = make(map[string]json.RawMessage)
		}
		m.client.Extra[key] = value
	}
	r.mu.Unlock()

	r.Broadcast(nil, "clientUpdated", name, key, value)
}

// SetHidden toggles a client's visibility without dropping its connection.
// Hiding looks like a disconnect to peers; un-hiding replays a synthetic
// clientConnected announcement.
func (r *Registry) SetHidden(conn Conn, hidden bool) {
	r.mu.Lock()
	m := r.byConn[conn.ID()]
	if m == nil {
		r.mu.Unlock()
		return
	}
	m.client.Hidden = hidden
	client := m.client
	r.mu.Unlock()

	if hidden {
		r.Broadcast(conn, "clientDisconnected", client.Name)
	} else {
		r.Broadcast(conn, "clientConnected", client)
	}
}

// Route delivers a command frame. A nil target list broadcasts to every
// connection except the sender; otherwise each named client receives a
// unicast copy.
func (r *Registry) Route(sender Conn, targets []string, event string, args ...any) {
	if targets == nil {
		r.Broadcast(sender, event, args...)
		return
	}
	for _, name := range targets {
		r.Send(name, event, args...)
	}
}

// Send unicasts a frame to the named client. Unknown and hidden clients
// are silently skipped.
func (r *Registry) Send(name string, event string, args ...any) {
	r.mu.Lock()
	m := r.members[name]
	if m == nil || m.client.Hidden {
		r.mu.Unlock()
		return
	}
	conn := m.conn
	r.mu.Unlock()

	conn.Send(event, args...)
}

// Broadcast delivers a frame to every open connection except the given
// one. Hidden clients receive nothing. Delivery order across recipients is
// unspecified.
func (r *Registry) Broadcast(except Conn, event string, args ...any) {
	r.mu.Lock()
	recipients := make([]Conn, 0, len(r.conns))
	for id, conn := range r.conns {
		if except != nil && id == except.ID() {
			continue
		}
		if m := r.byConn[id]; m != nil && m.client.Hidden {
			continue
		}
		recipients = append(recipients, conn)
	}
	r.mu.Unlock()

	for _, conn := range recipients {
		conn.Send(event, args...)
	}
}

// Disconnect deregisters a connection. A connection that never completed
// its handshake disappears silently; otherwise peers are notified.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	delete(r.conns, conn.ID())
	m := r.byConn[conn.ID()]
	if m == nil {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, conn.ID())
	delete(r.members, m.client.Name)
	name := m.client.Name
	r.mu.Unlock()

	r.Broadcast(conn, "clientDisconnected", name)
	r.logger.Info("client disconnected", zap.String("name", name))
}

// Visible returns a snapshot of all non-hidden clients.
func (r *Registry) Visible() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibleLocked()
}

func (r *Registry) visibleLocked() []Client {
	clients := make([]Client, 0, len(r.members))
	for _, m := range r.members {
		if m.client.Hidden {
			continue
		}
		clients = append(clients, *m.client)
	}
	return clients
}

// Viewers returns the names of clients that currently have the named view
// open. Used by the preview boundary to resolve current viewers.
func (r *Registry) Viewers(viewName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, m := range r.members {
		for _, v := range m.client.Views {
			if v.Name == viewName {
				names = append(names, m.client.Name)
				break
			}
		}
	}
	return names
}

// Lookup returns the client record registered for a connection, or nil if
// the connection has not handshaked.
func (r *Registry) Lookup(conn Conn) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.byConn[conn.ID()]; m != nil {
		return m.client
	}
	return nil
}
