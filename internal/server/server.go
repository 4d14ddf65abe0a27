// Package server hosts the netplay daemon: the HTTP/WebSocket process that
// terminates every participant's signaling connection, owns the
// authoritative session/slot/gamemode state per room, and runs the SFU side
// of every media transport.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/zalo/netplaycore/internal/executor"
	"github.com/zalo/netplaycore/internal/gamemode"
	"github.com/zalo/netplaycore/internal/media"
	"github.com/zalo/netplaycore/internal/metrics"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/room"
	"github.com/zalo/netplaycore/internal/session"
	"github.com/zalo/netplaycore/internal/slot"
	"github.com/zalo/netplaycore/internal/spectator"
	"go.uber.org/zap"
)

// roomState bundles the server-owned collaborators for one open room.
type roomState struct {
	exec    *executor.Room
	media   *media.Manager
	drift   *media.DriftMonitor
	sfu     *sfuState
	conns   map[string]*conn // participantID -> connection
	connsMu sync.RWMutex
}

// Server is the netplay daemon.
type Server struct {
	cfg        *Config
	httpServer *http.Server
	sessions   *session.Manager
	modes      *gamemode.Manager

	mu    sync.RWMutex
	rooms map[string]*roomState // room name -> state

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Server from cfg. It does not start listening; call Run.
func New(cfg *Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: session.NewManager(),
		modes:    gamemode.NewManager(),
		rooms:    make(map[string]*roomState),
		ctx:      ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/list", room.NewDiscoveryServer(s.sessions).HandleList)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Run starts accepting connections and blocks until the listener stops.
// A clean Shutdown is not reported as an error.
func (s *Server) Run() error {
	netplaylog.Info(s.ctx, "netplay daemon listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the daemon, closing every room's media manager
// and executor.
func (s *Server) Shutdown() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, rs := range s.rooms {
		rs.exec.Stop()
		if rs.drift != nil {
			rs.drift.Stop()
		}
		rs.media.CloseAll()
		delete(s.rooms, name)
	}
}

func (s *Server) getOrCreateRoomState(name string, mode session.ModeDescriptor) (*roomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rs, ok := s.rooms[name]; ok {
		return rs, nil
	}

	sessRoom, ok := s.sessions.Get(name)
	if !ok {
		return nil, errRoomNotTracked
	}

	slots := slot.New(mode.MaxPlayers, true)
	spectators := spectator.NewManager(nil)
	exec := executor.New(sessRoom, slots, spectators, mode)

	mediaMgr, err := media.NewManager(s.cfg.ICEServers, s.cfg.TURNUsername, s.cfg.TURNCredential, s.cfg.RetryTimerSeconds, nil)
	if err != nil {
		exec.Stop()
		return nil, err
	}

	drift := media.NewDriftMonitor(name)
	drift.Start(s.ctx)

	rs := &roomState{exec: exec, media: mediaMgr, drift: drift, sfu: newSFUState(), conns: make(map[string]*conn)}
	s.rooms[name] = rs
	metrics.ActiveRooms.Inc()
	return rs, nil
}

func (s *Server) roomStateFor(name string) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rooms[name]
	return rs, ok
}

func (s *Server) closeRoomState(name string) {
	s.mu.Lock()
	rs, ok := s.rooms[name]
	if ok {
		delete(s.rooms, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	rs.exec.Stop()
	if rs.drift != nil {
		rs.drift.Stop()
	}
	rs.media.CloseAll()
	s.sessions.Remove(name)
	metrics.ActiveRooms.Dec()
}

func (rs *roomState) register(participantID string, c *conn) {
	rs.connsMu.Lock()
	defer rs.connsMu.Unlock()
	rs.conns[participantID] = c
}

func (rs *roomState) unregister(participantID string) {
	rs.connsMu.Lock()
	defer rs.connsMu.Unlock()
	delete(rs.conns, participantID)
}

func (rs *roomState) broadcast(event string, payload interface{}, except string) {
	rs.connsMu.RLock()
	defer rs.connsMu.RUnlock()
	for id, c := range rs.conns {
		if id == except {
			continue
		}
		c.sendEvent(event, payload)
	}
}
