package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pixelrelay/internal/core/domain"
	"pixelrelay/internal/core/ports"
	"pixelrelay/internal/core/services"
	"pixelrelay/pkg/config"
	"pixelrelay/pkg/protocol"
	"pixelrelay/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configure a signalling Server.
type Options struct {
	StreamerAddress string
	PlayerAddress   string
	SFUAddress      string
	MaxSubscribers  int
	PeerOptions     json.RawMessage
	ShutdownTimeout time.Duration
	Connection      ConnectionOptions
}

// OptionsFromConfig maps the signalling and rate limiting sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	peerOptions, err := cfg.PeerOptionsJSON()
	if err != nil {
		return Options{}, fmt.Errorf("failed to encode peer options: %w", err)
	}

	opts := Options{
		StreamerAddress: cfg.Signalling.StreamerAddress,
		PlayerAddress:   cfg.Signalling.PlayerAddress,
		SFUAddress:      cfg.Signalling.SFUAddress,
		MaxSubscribers:  cfg.Signalling.MaxSubscribers,
		PeerOptions:     peerOptions,
		ShutdownTimeout: cfg.Signalling.ShutdownTimeout,
		Connection: ConnectionOptions{
			PingInterval:    cfg.Signalling.PingInterval,
			PongTimeout:     cfg.Signalling.PongTimeout,
			WriteTimeout:    cfg.Signalling.WriteTimeout,
			SendBufferSize:  cfg.Signalling.SendBufferSize,
			MaxMessageBytes: cfg.Signalling.MaxMessageBytes,
			LogMessages:     cfg.Logging.ConsoleMessages,
		},
	}
	if cfg.RateLimiting.Enabled {
		opts.Connection.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Connection.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return opts, nil
}

// Server brokers signalling between streamers, players and SFUs. Registry
// membership and subscription state change only while mu is held.
type Server struct {
	opts    Options
	logger  *zap.SugaredLogger
	metrics ports.SignallingMetrics
	events  ports.EventPublisher

	upgrader websocket.Upgrader
	started  time.Time

	mu        sync.Mutex
	streamers *services.Registry[*Streamer]
	players   *services.Registry[*Player]

	httpMu  sync.Mutex
	servers []*http.Server
}

func NewServer(opts Options, logger *zap.SugaredLogger, metrics ports.SignallingMetrics, events ports.EventPublisher) *Server {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if events == nil {
		events = ports.NopPublisher{}
	}
	if len(opts.PeerOptions) == 0 {
		opts.PeerOptions = json.RawMessage("{}")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		events:  events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		started:   time.Now(),
		streamers: services.NewRegistry[*Streamer](domain.KindStreamer, domain.DefaultStreamerPrefix),
		players:   services.NewRegistry[*Player](domain.KindPlayer, domain.DefaultPlayerPrefix),
	}

	s.streamers.Observe(s.publish)
	s.players.Observe(s.publish)
	s.players.Observe(s.broadcastPlayerCount)
	return s
}

// StreamerHandler upgrades streamer websocket connections.
func (s *Server) StreamerHandler() http.Handler {
	return s.upgradeHandler(domain.KindStreamer, s.serveStreamer)
}

// PlayerHandler upgrades player websocket connections.
func (s *Server) PlayerHandler() http.Handler {
	return s.upgradeHandler(domain.KindPlayer, s.servePlayer)
}

// SFUHandler upgrades SFU websocket connections.
func (s *Server) SFUHandler() http.Handler {
	return s.upgradeHandler(domain.KindSFU, s.serveSFU)
}

func (s *Server) upgradeHandler(kind domain.EndpointKind, serve func(*Connection)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Errorw("websocket upgrade failed", "kind", kind, "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		opts := s.opts.Connection
		opts.Kind = kind
		opts.Metrics = s.metrics
		conn := NewConnection(ws, opts, s.logger.With("kind", kind))

		s.metrics.ConnectionOpened(kind)
		conn.OnClose(func(code int, reason string) {
			s.metrics.ConnectionClosed(kind)
			conn.logger.Infow("connection closed", "code", code, "reason", reason)
		})

		conn.Send(&protocol.Config{
			ProtocolVersion:       protocol.SignallingVersion,
			PeerConnectionOptions: s.opts.PeerOptions,
		})
		serve(conn)
		conn.Run()
	})
}

// ListenAndServe serves streamers, players and SFUs on their configured
// addresses until ctx is cancelled or a listener fails. Empty addresses are
// skipped.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listeners := []struct {
		name    string
		addr    string
		handler http.Handler
	}{
		{"streamer", s.opts.StreamerAddress, s.StreamerHandler()},
		{"player", s.opts.PlayerAddress, s.PlayerHandler()},
		{"sfu", s.opts.SFUAddress, s.SFUHandler()},
	}

	errCh := make(chan error, len(listeners))
	s.httpMu.Lock()
	for _, l := range listeners {
		if l.addr == "" {
			continue
		}
		srv := &http.Server{Addr: l.addr, Handler: l.handler}
		s.servers = append(s.servers, srv)

		name := l.name
		go func() {
			s.logger.Infow("signalling listener started", "listener", name, "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s listener: %w", name, err)
			}
		}()
	}
	s.httpMu.Unlock()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.Shutdown(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the listeners and closes every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	servers := s.servers
	s.servers = nil
	s.httpMu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, st := range s.streamers.List() {
		st.conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	for _, p := range s.players.List() {
		p.conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	return firstErr
}

// Streamers snapshots every registered streamer.
func (s *Server) Streamers() []domain.StreamerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.streamers.List()
	out := make([]domain.StreamerInfo, 0, len(list))
	for _, st := range list {
		out = append(out, st.info())
	}
	return out
}

// Players snapshots every registered player.
func (s *Server) Players() []domain.PlayerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.players.List()
	out := make([]domain.PlayerInfo, 0, len(list))
	for _, p := range list {
		out = append(out, p.info())
	}
	return out
}

func (s *Server) Status() domain.ServerStatus {
	return domain.ServerStatus{
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Streamers: s.streamers.Count(),
		Players:   s.players.Count(),
		Version:   protocol.SignallingVersion,
	}
}

// DisconnectPlayer closes the player connection with the given id.
func (s *Server) DisconnectPlayer(id, reason string) error {
	p, ok := s.players.Get(id)
	if !ok || p.kind == domain.KindSFU {
		return domain.ErrPlayerNotFound
	}
	p.conn.Close(websocket.CloseInternalServerErr, reason)
	return nil
}

func (s *Server) publish(event domain.RegistryEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warnw("failed to publish registry event", "event", event.Kind, "id", event.ID, "error", err)
		}
	}()
}

func (s *Server) broadcastPlayerCount(event domain.RegistryEvent) {
	if event.Kind == domain.EventRenamed {
		return
	}
	msg := &protocol.PlayerCount{Count: event.Count}
	for _, p := range s.players.List() {
		p.conn.Send(msg)
	}
}

// subscribe attaches p to the streamer named streamerID, unsubscribing it
// from any current streamer first. Callers must not hold s.mu.
func (s *Server) subscribe(ctx context.Context, p *Player, streamerID string) {
	_, span := tracing.TraceSubscribe(ctx, p.id, streamerID)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.subscribedTo != nil {
		s.unsubscribeLocked(p)
	}

	st, ok := s.streamers.Get(streamerID)
	var reason string
	switch {
	case !ok || !st.streaming:
		reason = fmt.Sprintf("streamer %q not found", streamerID)
	case st.conn == p.conn:
		reason = "cannot subscribe to self"
	case st.full():
		reason = fmt.Sprintf("streamer %q is at its subscriber limit", streamerID)
	}
	if reason != "" {
		s.metrics.SubscribeResult(false)
		p.conn.logger.Infow("subscribe failed", "player_id", p.id, "streamer_id", streamerID, "reason", reason)
		p.conn.Send(&protocol.SubscribeFailed{Message: reason})
		return
	}

	st.subscribers = append(st.subscribers, p)
	if st.qualityController == nil {
		st.qualityController = p
	}
	p.subscribedTo = st
	s.metrics.SubscribeResult(true)

	p.conn.logger.Infow("player subscribed", "player_id", p.id, "streamer_id", st.id, "subscribers", len(st.subscribers))
	st.conn.Send(&protocol.PlayerConnected{
		PlayerID:    p.id,
		DataChannel: true,
		SFU:         p.kind == domain.KindSFU,
	})
}

func (s *Server) unsubscribe(p *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked(p)
}

func (s *Server) unsubscribeLocked(p *Player) {
	st := p.subscribedTo
	if st == nil {
		return
	}
	p.subscribedTo = nil
	st.removeSubscriber(p)
	st.conn.Send(&protocol.PlayerDisconnected{PlayerID: p.id})
	p.conn.logger.Infow("player unsubscribed", "player_id", p.id, "streamer_id", st.id)
}

// dropSubscribersLocked detaches every subscriber of st and tells each one
// the streamer went away.
func (s *Server) dropSubscribersLocked(st *Streamer) {
	for _, p := range st.subscribers {
		p.subscribedTo = nil
		p.conn.Send(&protocol.StreamerDisconnected{})
	}
	st.subscribers = nil
	st.qualityController = nil
}

func (s *Server) listStreamers(p *Player) {
	s.mu.Lock()
	ids := make([]string, 0, s.streamers.Count())
	for _, st := range s.streamers.List() {
		if st.streaming {
			ids = append(ids, st.id)
		}
	}
	s.mu.Unlock()

	p.conn.Send(&protocol.StreamerList{IDs: ids})
}

// toPlayer relays msg from st to the player it names. The player must be
// subscribed to st.
func (s *Server) toPlayer(st *Streamer, playerID string, msg protocol.Message) {
	s.mu.Lock()
	p, ok := s.players.Get(playerID)
	subscribed := ok && p.subscribedTo == st
	s.mu.Unlock()

	switch {
	case !ok:
		st.conn.logger.Warnw("dropping message for unknown player", "streamer_id", st.id, "player_id", playerID, "type", msg.MessageType())
	case !subscribed:
		st.conn.logger.Warnw("dropping message for player not subscribed to this streamer", "streamer_id", st.id, "player_id", playerID, "type", msg.MessageType())
	default:
		p.conn.Send(msg)
	}
}

// toStreamer relays msg from p to the streamer it is subscribed to.
func (s *Server) toStreamer(p *Player, msg protocol.Message) {
	s.mu.Lock()
	st := p.subscribedTo
	s.mu.Unlock()

	if st == nil {
		p.conn.logger.Warnw("dropping message from unsubscribed player", "player_id", p.id, "type", msg.MessageType())
		return
	}
	st.conn.Send(msg)
}

func pong(conn *Connection) func(context.Context, *protocol.Ping) {
	return func(_ context.Context, msg *protocol.Ping) {
		conn.Send(&protocol.Pong{Time: msg.Time})
	}
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened(domain.EndpointKind)        {}
func (nopMetrics) ConnectionClosed(domain.EndpointKind)        {}
func (nopMetrics) MessageReceived(domain.EndpointKind, string) {}
func (nopMetrics) MessageDropped(domain.EndpointKind, string)  {}
func (nopMetrics) SubscribeResult(bool)                        {}
