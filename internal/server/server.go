// Package server is the HTTP and WebSocket edge. It upgrades client
// connections, decodes frames, and dispatches them to the session
// registry, the document directory, and the search engine.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/config"
	"github.com/danieljhkim/coedit/internal/directory"
	"github.com/danieljhkim/coedit/internal/ot"
	"github.com/danieljhkim/coedit/internal/search"
	"github.com/danieljhkim/coedit/internal/session"
	"github.com/danieljhkim/coedit/internal/wire"
)

// Server owns the listener and fans decoded frames out to the
// collaboration components.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *session.Registry
	console  *session.Console
	dir      *directory.Directory
	engine   *search.Engine

	httpServer  *http.Server
	upgrader    websocket.Upgrader
	mdns        *zeroconf.Server
	stopWatch   func()
	unsubscribe func()
}

// New wires the server to the collaboration components. Applied document
// operations are rebroadcast to every client, the submitter included, so
// each editor converges on the same version sequence.
func New(cfg *config.Config, logger *zap.Logger, registry *session.Registry, console *session.Console, dir *directory.Directory, engine *search.Engine) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		console:  console,
		dir:      dir,
		engine:   engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.unsubscribe = dir.Service().Subscribe(func(e ot.Event) {
		registry.Broadcast(nil, "op", e.DocID, e.Op, e.Version)
		// Clients previewing the document render from its snapshot and
		// need a nudge to re-fetch.
		if relPath, err := dir.PathOf(e.DocID); err == nil {
			for _, name := range registry.Viewers(relPath) {
				registry.Send(name, "refreshPreview", relPath)
			}
		}
	})
	return s
}

// Fanout adapts the registry to broadcasters that have no sender to
// exclude, like the directory's history announcements.
type Fanout struct {
	Registry *session.Registry
}

// Broadcast sends the frame to every visible client.
func (f Fanout) Broadcast(event string, args ...any) {
	f.Registry.Broadcast(nil, event, args...)
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/preview/{path:.*}", s.handlePreview).Methods(http.MethodGet)
	return r
}

// Run starts the listener and blocks until Shutdown or a listener error.
func (s *Server) Run() error {
	if s.cfg.Watch {
		stop, err := s.watchProject()
		if err != nil {
			s.logger.Warn("project watcher disabled", zap.Error(err))
		} else {
			s.stopWatch = stop
		}
	}
	if s.cfg.MDNS.Enabled {
		if err := s.announce(); err != nil {
			s.logger.Warn("mdns announcement failed", zap.Error(err))
		}
	}

	s.httpServer = &http.Server{Addr: s.cfg.Listen, Handler: s.Router()}
	s.logger.Info("listening", zap.String("addr", s.cfg.Listen), zap.String("project", s.dir.Name()))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and releases the watcher, the mDNS
// announcement, and the operation subscription.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.mdns != nil {
		s.mdns.Shutdown()
	}
	s.unsubscribe()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) announce() error {
	_, portStr, err := net.SplitHostPort(s.cfg.Listen)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	srv, err := zeroconf.Register(s.dir.Name(), s.cfg.MDNS.Service, "local.", port, nil, nil)
	if err != nil {
		return err
	}
	s.mdns = srv
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(ws, s.logger)
	s.registry.Register(conn)
	defer func() {
		s.registry.Disconnect(conn)
		conn.close()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.logger.Debug("connection closed", zap.String("conn", conn.ID()), zap.Error(err))
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.String("conn", conn.ID()), zap.Error(err))
			continue
		}
		s.dispatch(conn, frame)
	}
}

// initReply is the handshake response. It carries everything a client
// needs to render the workspace before any further round trip.
type initReply struct {
	Name    string              `json:"name"`
	Color   string              `json:"color"`
	Clients []session.Client    `json:"clients"`
	Project string              `json:"project"`
	History []string            `json:"history"`
	Console [][]json.RawMessage `json:"console"`
}

func (s *Server) dispatch(conn session.Conn, frame *wire.Frame) {
	switch frame.Event {
	case "init":
		var client session.Client
		if s.badArg(conn, frame, 0, &client) {
			return
		}
		self, peers := s.registry.Handshake(conn, &client)
		conn.Send("init", initReply{
			Name:    self.Name,
			Color:   self.Color,
			Clients: peers,
			Project: s.dir.Name(),
			History: s.dir.History(),
			Console: s.console.History(),
		})

	case "updateClient":
		var name, key string
		if s.badArg(conn, frame, 0, &name) || s.badArg(conn, frame, 1, &key) {
			return
		}
		var value json.RawMessage
		if len(frame.Args) > 2 {
			value = frame.Args[2]
		}
		s.registry.UpdateClient(name, key, value)

	case "hidden":
		var hidden bool
		if s.badArg(conn, frame, 0, &hidden) {
			return
		}
		s.registry.SetHidden(conn, hidden)

	case "command":
		targets, ok := s.commandTargets(conn, frame)
		if !ok {
			return
		}
		rest := make([]any, 0, len(frame.Args)-1)
		for _, a := range frame.Args[1:] {
			rest = append(rest, a)
		}
		s.registry.Route(conn, targets, "command", rest...)

	case "history":
		var relPath string
		if s.badArg(conn, frame, 0, &relPath) {
			return
		}
		s.dir.TouchHistory(relPath)

	case "save":
		if s.dir.Flush() {
			s.registry.Broadcast(nil, "saved")
		}

	case "search":
		var opts struct {
			Search  string  `json:"search"`
			Replace *string `json:"replace"`
		}
		if s.badArg(conn, frame, 0, &opts) {
			return
		}
		target := s.senderName(conn)
		if len(frame.Args) > 1 {
			var name string
			if !s.badArg(conn, frame, 1, &name) && name != "" {
				target = name
			}
		}
		result := s.engine.Search(opts.Search)
		result.Replace = opts.Replace
		s.registry.Send(target, "searched", result)

	case "replace":
		var selection map[string]search.Selection
		var query, replacement string
		if s.badArg(conn, frame, 0, &selection) ||
			s.badArg(conn, frame, 1, &query) ||
			s.badArg(conn, frame, 2, &replacement) {
			return
		}
		conn.Send("replaced", s.engine.Replace(selection, query, replacement))

	case "console":
		var kind string
		if s.badArg(conn, frame, 0, &kind) {
			return
		}
		rest := frame.Args[1:]
		s.console.Apply(kind, rest)
		args := make([]any, 0, len(rest)+1)
		args = append(args, kind)
		for _, a := range rest {
			args = append(args, a)
		}
		s.registry.Broadcast(conn, "console", args...)

	case "open":
		var relPath string
		if s.badArg(conn, frame, 0, &relPath) {
			return
		}
		id, snap, err := s.dir.Open(relPath)
		if err != nil {
			conn.Send("error", err.Error())
			return
		}
		conn.Send("opened", relPath, id, snap)

	case "create":
		var rec ot.Record
		if s.badArg(conn, frame, 0, &rec) {
			return
		}
		id, snap, err := s.dir.Create(rec)
		if err != nil {
			conn.Send("error", err.Error())
			return
		}
		conn.Send("created", id, snap)
		s.registry.Broadcast(conn, "docCreated", id, snap)

	case "delete":
		var id string
		if s.badArg(conn, frame, 0, &id) {
			return
		}
		if err := s.dir.Delete(id); err != nil {
			conn.Send("error", err.Error())
			return
		}
		conn.Send("deleted", id)
		s.registry.Broadcast(conn, "docDeleted", id)

	case "submitOp":
		var id string
		var op ot.Op
		if s.badArg(conn, frame, 0, &id) || s.badArg(conn, frame, 1, &op) {
			return
		}
		if _, err := s.dir.Submit(id, op); err != nil {
			conn.Send("error", err.Error())
		}

	default:
		s.logger.Warn("unknown event", zap.String("conn", conn.ID()), zap.String("event", frame.Event))
	}
}

// commandTargets decodes the first argument of a command frame, which is
// null for broadcast, a single name, or a list of names.
func (s *Server) commandTargets(conn session.Conn, frame *wire.Frame) ([]string, bool) {
	if len(frame.Args) == 0 {
		s.logger.Warn("dropping command frame without target", zap.String("conn", conn.ID()))
		return nil, false
	}
	raw := frame.Args[0]
	if string(raw) == "null" {
		return nil, true
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, true
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, true
	}
	s.logger.Warn("dropping command frame with invalid target", zap.String("conn", conn.ID()))
	return nil, false
}

func (s *Server) senderName(conn session.Conn) string {
	if c := s.registry.Lookup(conn); c != nil {
		return c.Name
	}
	return ""
}

// badArg decodes argument i into v and reports whether the frame should
// be dropped. Decode failures are logged; the connection stays open.
func (s *Server) badArg(conn session.Conn, frame *wire.Frame, i int, v any) bool {
	if err := frame.Arg(i, v); err != nil {
		s.logger.Warn("dropping frame", zap.String("conn", conn.ID()), zap.Error(err))
		return true
	}
	return false
}
