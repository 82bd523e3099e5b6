// Package server exposes the coordinator over websocket and HTTP. Transport
// events map one-to-one onto coordinator transitions; the server itself holds
// no matchmaking state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/solostream/coordinator/internals/auth"
	"github.com/solostream/coordinator/internals/config"
	"github.com/solostream/coordinator/internals/coordinator"
	appmetrics "github.com/solostream/coordinator/internals/metrics"
	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
	"github.com/solostream/coordinator/internals/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hub       *notify.Hub
	coord     *coordinator.Coordinator
	relay     *relay.Relay
	resolver  auth.Resolver
	directory auth.Directory

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, hub *notify.Hub, coord *coordinator.Coordinator, rly *relay.Relay, resolver auth.Resolver, directory auth.Directory, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		logger:    logger,
		hub:       hub,
		coord:     coord,
		relay:     rly,
		resolver:  resolver,
		directory: directory,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handler builds the HTTP routing table. Exposed so tests can mount it on a
// test listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/streamers", s.corsMiddleware(s.handleFreeStreamers))
	mux.HandleFunc("/health", s.handleHealth)

	if s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}
	return mux
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		<-s.ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Coordinator server listening",
		zap.String("host", s.cfg.Server.Host),
		zap.Int("port", s.cfg.Server.Port),
	)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop() {
	s.logger.Info("Stopping coordinator server")
	s.cancel()
}

// handleWebSocket authenticates a connection and drives the corresponding
// coordinator transition. Query parameters: token (required), streamer_id
// (required for viewers), mode=lobby for availability watchers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolver.Resolve(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		appmetrics.RecordRefusedConnection("invalid_token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	lobby := r.URL.Query().Get("mode") == "lobby"

	var streamerID int64
	if !lobby && identity.Role == presence.RoleViewer {
		streamerID, err = strconv.ParseInt(r.URL.Query().Get("streamer_id"), 10, 64)
		if err != nil || streamerID <= 0 {
			appmetrics.RecordRefusedConnection("missing_streamer_id")
			http.Error(w, "missing or invalid streamer_id", http.StatusBadRequest)
			return
		}
		exists, derr := s.directory.StreamerExists(r.Context(), streamerID)
		if derr != nil {
			http.Error(w, "streamer lookup failed", http.StatusInternalServerError)
			return
		}
		if !exists {
			appmetrics.RecordRefusedConnection("unknown_streamer")
			http.Error(w, "unknown streamer", http.StatusNotFound)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), identity, conn, s.cfg.Transport, s.logger)
	client.streamerID = streamerID
	client.lobby = lobby
	client.onMessage = s.dispatch
	client.onDisconnect = s.clientGone

	s.hub.Register(client)
	appmetrics.ActiveClients.Inc()

	go client.writePump()
	go client.readPump()

	if lobby {
		s.hub.Join(client.id, notify.ChannelLobby)
		client.Deliver(notify.Message{Event: notify.EventConnectOK, Timestamp: time.Now()})
		return
	}

	switch identity.Role {
	case presence.RoleStreamer:
		if err := s.coord.ConnectStreamer(s.ctx, identity.UserID, client.id); err != nil {
			s.refuseClient(client, "CONNECT_FAILED")
			s.logger.Error("Streamer connect failed",
				zap.Int64("streamerID", identity.UserID),
				zap.Error(err),
			)
		}
	case presence.RoleViewer:
		outcome, err := s.coord.ConnectViewer(s.ctx, streamerID, identity.UserID, client.id)
		if err != nil {
			s.refuseClient(client, "CONNECT_FAILED")
			s.logger.Error("Viewer connect failed",
				zap.Int64("streamerID", streamerID),
				zap.Int64("viewerID", identity.UserID),
				zap.Error(err),
			)
			return
		}
		if outcome == coordinator.OutcomeSeatUnavailable {
			appmetrics.RecordRefusedConnection("no_seats")
			s.refuseClient(client, "NO_SEATS")
		}
	}
}

// refuseClient sends a terminal error event and closes the socket. Used for
// refusals that can only be decided after the upgrade.
func (s *Server) refuseClient(client *Client, code string) {
	msg, err := notify.NewMessage(notify.EventError, map[string]string{"code": code})
	if err == nil {
		client.Deliver(msg)
	}
	client.Kick(code)
}

func (s *Server) dispatch(client *Client, msg ClientMessage) {
	if client.lobby {
		// Lobby watchers only listen.
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	switch msg.Event {
	case "ping":
		if err := s.coord.Ping(ctx, client.identity.Role, client.identity.UserID); err != nil {
			s.logger.Warn("Ping failed",
				zap.String("sessionID", client.id),
				zap.Error(err),
			)
		}

	case string(notify.EventWebRTCOffer), string(notify.EventWebRTCAnswer), string(notify.EventWebRTCICE):
		kind := relay.Kind(strings.TrimPrefix(msg.Event, "webrtc:"))
		if err := s.relay.Forward(ctx, kind, client.identity.Role, client.identity.UserID, msg.Data); err != nil {
			s.logger.Warn("Relay failed",
				zap.String("sessionID", client.id),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}

	default:
		s.logger.Debug("Unknown client event",
			zap.String("sessionID", client.id),
			zap.String("event", msg.Event),
		)
	}
}

// clientGone runs when a socket closes for any reason. The disconnect is
// fire-and-forget and session-guarded: a socket evicted by a second connect
// finds its session already rebound and does nothing.
func (s *Server) clientGone(client *Client) {
	s.hub.Unregister(client)
	appmetrics.ActiveClients.Dec()

	if client.lobby {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var err error
		switch client.identity.Role {
		case presence.RoleStreamer:
			err = s.coord.DisconnectStreamerSession(ctx, client.identity.UserID, client.id, coordinator.ReasonClientClosed)
		case presence.RoleViewer:
			err = s.coord.DisconnectViewerSession(ctx, client.identity.UserID, client.id, coordinator.ReasonClientClosed)
		}
		if err != nil {
			s.logger.Warn("Disconnect after socket close failed",
				zap.String("sessionID", client.id),
				zap.Int64("userID", client.identity.UserID),
				zap.Error(err),
			)
		}
	}()
}

type freeStreamersResponse struct {
	Streamers []coordinator.StreamerEvent `json:"streamers"`
}

// handleFreeStreamers lists online streamers with an open seat, filtered
// through the persisted-store directory.
func (s *Server) handleFreeStreamers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.resolver.Resolve(r.Context(), bearerToken(r)); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ids, err := s.coord.FreeStreamers(r.Context())
	if err != nil {
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}

	resp := freeStreamersResponse{Streamers: make([]coordinator.StreamerEvent, 0, len(ids))}
	for _, id := range ids {
		exists, derr := s.directory.StreamerExists(r.Context(), id)
		if derr != nil || !exists {
			continue
		}
		resp.Streamers = append(resp.Streamers, coordinator.StreamerEvent{StreamerID: id})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
