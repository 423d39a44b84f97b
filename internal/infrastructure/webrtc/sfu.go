package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pixelrelay/internal/core/domain"
	"pixelrelay/internal/core/ports"
	"pixelrelay/internal/infrastructure/signal"
	"pixelrelay/pkg/config"
	"pixelrelay/pkg/protocol"
	"pixelrelay/pkg/tracing"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// State is the position of the SFU's upstream leg.
type State string

const (
	StateConnecting           State = "connecting"
	StateIdentified           State = "identified"
	StateAwaitingStreamerList State = "awaiting_streamer_list"
	StateSubscribing          State = "subscribing"
	StateNegotiating          State = "negotiating"
	StateActive               State = "active"
)

// multiplexStreamID is the SCTP stream shared by all players in multiplex mode.
const multiplexStreamID uint16 = 0

// reservedStreamID keeps the SCTP association of a downstream session
// without an in-band channel. It is never handed to players.
const reservedStreamID uint16 = 1023

const rejectOfferReason = "Producer is already connected"

// ControllerConfig configures the SFU controller.
type ControllerConfig struct {
	ID                  string
	SignallingURL       string
	SubscribeStreamerID string
	ReconnectDelay      time.Duration
	RetrySubscribeDelay time.Duration
	EnableSVC           bool
	ScalabilityMode     string
	Connection          signal.ConnectionOptions
}

func ControllerConfigFromConfig(cfg *config.Config) ControllerConfig {
	return ControllerConfig{
		ID:                  cfg.SFU.ID,
		SignallingURL:       cfg.SFU.SignallingURL,
		SubscribeStreamerID: cfg.SFU.SubscribeStreamerID,
		ReconnectDelay:      cfg.SFU.ReconnectDelay,
		RetrySubscribeDelay: cfg.SFU.RetrySubscribeDelay,
		EnableSVC:           cfg.SFU.EnableSVC,
		ScalabilityMode:     cfg.SFU.ScalabilityMode,
		Connection: signal.ConnectionOptions{
			PingInterval:    cfg.Signalling.PingInterval,
			PongTimeout:     cfg.Signalling.PongTimeout,
			WriteTimeout:    cfg.Signalling.WriteTimeout,
			SendBufferSize:  cfg.Signalling.SendBufferSize,
			MaxMessageBytes: cfg.Signalling.MaxMessageBytes,
			LogMessages:     cfg.Logging.ConsoleMessages,
		},
	}
}

func PionConfigFromConfig(cfg *config.Config) PionConfig {
	var out PionConfig
	for _, s := range cfg.SFU.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	out.PortRange.Min = cfg.SFU.PortRange.Min
	out.PortRange.Max = cfg.SFU.PortRange.Max
	return out
}

type downstreamLeg struct {
	playerID string
	session  Downstream
	channels []DataChannel
}

func (l *downstreamLeg) close() {
	for _, ch := range l.channels {
		_ = ch.Close()
	}
	_ = l.session.Close()
}

// Controller connects an SFU to the signalling server, binds one streamer
// as its upstream and serves every subscribing player from it.
type Controller struct {
	cfg     ControllerConfig
	engine  Engine
	logger  *zap.SugaredLogger
	metrics ports.SFUMetrics
	dialer  *websocket.Dialer

	mu              sync.Mutex
	state           State
	conn            *signal.Connection
	id              string
	streamerID      string
	upstream        Upstream
	negotiating     bool
	resubscribed    bool
	active          bool
	multiplex       bool
	scalabilityMode string
	router          *DataRouter
	legs            map[string]*downstreamLeg
	offering        map[string]uint64
	legSeq          uint64
	pending         []string
	retry           *time.Timer
	nextStreamID    uint16
}

func NewController(cfg ControllerConfig, engine Engine, logger *zap.SugaredLogger, metrics ports.SFUMetrics) *Controller {
	if cfg.ID == "" {
		cfg.ID = domain.DefaultSFUID
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.RetrySubscribeDelay <= 0 {
		cfg.RetrySubscribeDelay = 10 * time.Second
	}
	if cfg.ScalabilityMode == "" {
		cfg.ScalabilityMode = "L1T1"
	}
	if metrics == nil {
		metrics = nopSFUMetrics{}
	}

	return &Controller{
		cfg:     cfg,
		engine:  engine,
		logger:  logger.With("sfu_id", cfg.ID),
		metrics: metrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		state:        StateConnecting,
		legs:         make(map[string]*downstreamLeg),
		offering:     make(map[string]uint64),
		nextStreamID: multiplexStreamID + 1,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run keeps a signalling session open until ctx is cancelled, reconnecting
// after a fixed delay whenever it drops. It returns an error only when the
// media engine fails.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		err := c.runSession(ctx)
		if errors.Is(err, domain.ErrEngineUnavailable) {
			return err
		}
		if err != nil {
			c.logger.Warnw("signalling session ended", "error", err)
		}

		c.setState(StateConnecting)
		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.engine.Done():
			timer.Stop()
			return c.engineErr()
		case <-timer.C:
		}

		c.metrics.Reconnect()
		c.logger.Infow("reconnecting to signalling server", "url", c.cfg.SignallingURL)
	}
}

func (c *Controller) runSession(ctx context.Context) error {
	c.setState(StateConnecting)

	ws, _, err := c.dialer.DialContext(ctx, c.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.cfg.SignallingURL, err)
	}

	opts := c.cfg.Connection
	opts.Kind = domain.KindSFU
	conn := signal.NewConnection(ws, opts, c.logger)
	c.install(conn)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Infow("connected to signalling server", "url", c.cfg.SignallingURL)

	go conn.Run()

	var result error
	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close(websocket.CloseGoingAway, "sfu shutting down")
		<-conn.Done()
	case <-c.engine.Done():
		conn.Close(websocket.CloseInternalServerErr, "media engine failed")
		<-conn.Done()
		result = c.engineErr()
	}

	c.endSession(conn)
	return result
}

func (c *Controller) engineErr() error {
	if err := c.engine.Err(); err != nil {
		return err
	}
	return domain.ErrEngineUnavailable
}

func (c *Controller) install(conn *signal.Connection) {
	signal.On(conn, func(ctx context.Context, _ *protocol.Identify) {
		c.setState(StateIdentified)
		conn.Send(&protocol.EndpointID{ID: c.cfg.ID, ProtocolVersion: protocol.SignallingVersion})
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.EndpointIDConfirm) {
		c.onConfirmed(conn, msg.CommittedID)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.StreamerList) {
		c.onStreamerList(conn, msg.IDs)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.SubscribeFailed) {
		c.logger.Warnw("subscribe failed", "reason", msg.Message)
		c.scheduleRetry(conn)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.StreamerDisconnected) {
		c.onStreamerDisconnected(conn)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.Offer) {
		if msg.PlayerID != "" {
			c.logger.Warnw("ignoring offer from player", "player_id", msg.PlayerID)
			return
		}
		c.onUpstreamOffer(ctx, conn, msg)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.Answer) {
		c.onPlayerAnswer(msg)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.ICECandidate) {
		c.onCandidate(msg)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.PlayerConnected) {
		c.onPlayerConnected(conn, msg.PlayerID)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.PlayerDisconnected) {
		c.releaseLeg(msg.PlayerID, nil)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.LayerPreference) {
		c.onLayerPreference(msg)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.DataChannelRequest) {
		c.onDataChannelRequest(conn, msg.PlayerID)
	})
	signal.On(conn, func(ctx context.Context, msg *protocol.PeerDataChannelsReady) {
		c.logger.Debugw("player data channels ready", "player_id", msg.PlayerID)
	})
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.SetState(string(s))
}

func (c *Controller) onConfirmed(conn *signal.Connection, id string) {
	c.mu.Lock()
	c.id = id
	resume := c.active
	streamerID := c.streamerID
	if resume {
		c.state = StateActive
		c.resubscribed = true
	}
	c.mu.Unlock()

	c.logger.Infow("identity confirmed", "committed_id", id, "resume", resume)
	if resume {
		// Subscriptions do not outlive the signalling connection.
		c.metrics.SetState(string(StateActive))
		conn.Send(&protocol.Subscribe{StreamerID: streamerID})
		conn.Send(&protocol.StartStreaming{})
		return
	}
	c.requestStreamers(conn)
}

func (c *Controller) requestStreamers(conn *signal.Connection) {
	c.setState(StateAwaitingStreamerList)
	conn.Send(&protocol.ListStreamers{})
}

func (c *Controller) onStreamerList(conn *signal.Connection, ids []string) {
	c.mu.Lock()
	self := c.id
	bound := c.upstream != nil || c.negotiating
	c.mu.Unlock()
	if bound {
		return
	}

	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != self {
			candidates = append(candidates, id)
		}
	}

	target := pickStreamer(candidates, c.cfg.SubscribeStreamerID)
	if target == "" {
		c.logger.Infow("no eligible streamer", "streamers", candidates, "wanted", c.cfg.SubscribeStreamerID, "retry_in", c.cfg.RetrySubscribeDelay)
		c.scheduleRetry(conn)
		return
	}

	c.mu.Lock()
	c.streamerID = target
	c.state = StateSubscribing
	c.mu.Unlock()
	c.metrics.SetState(string(StateSubscribing))
	c.logger.Infow("subscribing to streamer", "streamer_id", target)
	conn.Send(&protocol.Subscribe{StreamerID: target})
}

// pickStreamer returns wanted if it is listed, or the first id when no
// target is configured.
func pickStreamer(ids []string, wanted string) string {
	if wanted != "" {
		for _, id := range ids {
			if id == wanted {
				return id
			}
		}
		return ""
	}
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func (c *Controller) scheduleRetry(conn *signal.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retry != nil {
		c.retry.Stop()
	}
	c.state = StateAwaitingStreamerList
	c.retry = time.AfterFunc(c.cfg.RetrySubscribeDelay, func() {
		c.mu.Lock()
		current := c.conn == conn && c.upstream == nil && !c.negotiating
		c.mu.Unlock()
		if current {
			c.requestStreamers(conn)
		}
	})
}

func (c *Controller) onStreamerDisconnected(conn *signal.Connection) {
	c.mu.Lock()
	bound := c.upstream != nil || c.negotiating
	c.mu.Unlock()

	c.logger.Infow("upstream streamer left signalling", "upstream_bound", bound)
	if !bound {
		c.scheduleRetry(conn)
	}
}

func (c *Controller) onUpstreamOffer(ctx context.Context, conn *signal.Connection, msg *protocol.Offer) {
	c.mu.Lock()
	var replaced Upstream
	var stale map[string]*downstreamLeg
	if c.resubscribed && c.upstream != nil && !c.negotiating {
		// The streamer re-offers after a resumed subscription. Its old
		// peer connection is gone, so the new offer replaces the upstream.
		replaced = c.upstream
		stale = c.legs
		c.upstream = nil
		c.active = false
		c.router = nil
		c.legs = make(map[string]*downstreamLeg)
		c.offering = make(map[string]uint64)
	}
	c.resubscribed = false
	if c.upstream != nil || c.negotiating {
		c.mu.Unlock()
		c.logger.Warnw("rejecting streamer offer, upstream already bound")
		conn.Close(websocket.CloseTryAgainLater, rejectOfferReason)
		return
	}
	mode := c.cfg.ScalabilityMode
	if c.cfg.EnableSVC && msg.ScalabilityMode != "" {
		mode = msg.ScalabilityMode
	}
	c.negotiating = true
	c.state = StateNegotiating
	c.scalabilityMode = mode
	c.multiplex = msg.Multiplex
	c.mu.Unlock()
	c.metrics.SetState(string(StateNegotiating))
	if replaced != nil {
		c.logger.Infow("replacing upstream after resubscribe", "players", len(stale))
		c.metrics.PlayerSessions(0)
		go func() {
			for _, l := range stale {
				l.close()
			}
			_ = replaced.Close()
		}()
	}

	ctx, span := tracing.TraceNegotiation(ctx, "upstream_answer", c.cfg.ID)
	defer span.End()
	start := time.Now()

	up, err := c.engine.NewUpstream(ctx, UpstreamOptions{ScalabilityMode: mode})
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to create upstream session", "error", err)
		c.abortNegotiation(conn, nil)
		return
	}
	up.OnICEStateChange(c.handleUpstreamICE(up))

	answer, err := up.Answer(ctx, msg.SDP)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to answer streamer offer", "error", err)
		c.abortNegotiation(conn, up)
		return
	}
	c.metrics.NegotiationDuration("upstream", time.Since(start))

	c.mu.Lock()
	c.negotiating = false
	c.upstream = up
	c.mu.Unlock()

	c.logger.Infow("answered streamer offer", "scalability_mode", mode, "multiplex", msg.Multiplex)
	conn.Send(&protocol.Answer{SDP: answer})
}

func (c *Controller) abortNegotiation(conn *signal.Connection, up Upstream) {
	if up != nil {
		_ = up.Close()
	}
	c.mu.Lock()
	c.negotiating = false
	c.mu.Unlock()

	conn.Send(&protocol.Unsubscribe{})
	c.scheduleRetry(conn)
}

func (c *Controller) handleUpstreamICE(up Upstream) func(webrtc.ICEConnectionState) {
	return func(state webrtc.ICEConnectionState) {
		c.logger.Infow("upstream ICE connection state changed", "ice_state", state.String())

		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			c.activate(up)
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			c.releaseUpstream(up)
		}
	}
}

func (c *Controller) activate(up Upstream) {
	c.mu.Lock()
	if c.upstream != up || c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.state = StateActive
	if c.multiplex {
		ch, err := up.OpenDataChannel("multiplex", multiplexStreamID)
		if err != nil {
			c.logger.Errorw("failed to open multiplex data channel", "error", err)
		} else {
			c.router = NewDataRouter(c.logger.With("component", "data_router"), c.metrics)
			c.router.HandleStreamer(ch)
		}
	}
	conn := c.conn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.metrics.SetState(string(StateActive))
	c.logger.Infow("upstream active", "queued_players", len(pending))
	if conn == nil {
		return
	}
	conn.Send(&protocol.StartStreaming{})

	for _, playerID := range pending {
		go c.startLeg(conn.Context(), conn, playerID)
	}
}

// releaseUpstream drops up and every player leg fed by it.
func (c *Controller) releaseUpstream(up Upstream) {
	c.mu.Lock()
	if c.upstream != up {
		c.mu.Unlock()
		return
	}
	wasActive := c.active
	c.upstream = nil
	c.active = false
	c.router = nil
	legs := c.legs
	c.legs = make(map[string]*downstreamLeg)
	c.offering = make(map[string]uint64)
	c.pending = nil
	conn := c.conn
	c.mu.Unlock()

	c.logger.Infow("upstream released", "was_active", wasActive, "players", len(legs))
	c.metrics.PlayerSessions(0)
	go func() {
		for _, l := range legs {
			l.close()
		}
		_ = up.Close()
	}()

	if conn == nil {
		return
	}
	if wasActive {
		conn.Send(&protocol.StopStreaming{})
	}
	conn.Send(&protocol.Unsubscribe{})
	c.requestStreamers(conn)
}

// onPlayerConnected starts the player's leg off the read loop so one slow
// negotiation does not hold up the others.
func (c *Controller) onPlayerConnected(conn *signal.Connection, playerID string) {
	c.mu.Lock()
	if !c.active {
		for _, id := range c.pending {
			if id == playerID {
				c.mu.Unlock()
				return
			}
		}
		c.pending = append(c.pending, playerID)
		c.mu.Unlock()
		c.logger.Infow("player queued until upstream is active", "player_id", playerID)
		return
	}
	c.mu.Unlock()

	go c.startLeg(conn.Context(), conn, playerID)
}

// startLeg negotiates a downstream session for playerID. A later connect or
// a disconnect of the same player while the offer is being built discards it.
func (c *Controller) startLeg(ctx context.Context, conn *signal.Connection, playerID string) {
	c.releaseLeg(playerID, nil)

	c.mu.Lock()
	c.legSeq++
	seq := c.legSeq
	c.offering[playerID] = seq
	up := c.upstream
	router := c.router
	multiplex := c.multiplex
	mode := c.scalabilityMode
	c.mu.Unlock()
	if up == nil {
		c.finishOffering(playerID, seq)
		return
	}

	ctx, span := tracing.TraceNegotiation(ctx, "downstream_offer", playerID)
	defer span.End()
	start := time.Now()

	session, err := c.engine.NewDownstream(ctx, playerID, up, DownstreamOptions{DataChannel: multiplex})
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to create player session", "player_id", playerID, "error", err)
		c.finishOffering(playerID, seq)
		return
	}

	session.OnICEStateChange(func(state webrtc.ICEConnectionState) {
		c.logger.Infow("player ICE connection state changed", "player_id", playerID, "ice_state", state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			go c.releaseLeg(playerID, session)
		}
	})
	session.OnKeyframeRequest(func() {
		if err := up.RequestKeyframe(); err != nil {
			c.logger.Debugw("failed to forward keyframe request", "player_id", playerID, "error", err)
		}
	})
	if router != nil {
		session.OnDataChannel(func(ch DataChannel) {
			router.HandlePlayer(ch, playerID)
		})
	}

	offer, err := session.Offer(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to create player offer", "player_id", playerID, "error", err)
		_ = session.Close()
		c.finishOffering(playerID, seq)
		return
	}

	c.mu.Lock()
	if c.offering[playerID] != seq || c.upstream != up {
		c.mu.Unlock()
		c.logger.Debugw("discarding superseded player offer", "player_id", playerID)
		_ = session.Close()
		return
	}
	delete(c.offering, playerID)
	c.legs[playerID] = &downstreamLeg{playerID: playerID, session: session}
	n := len(c.legs)
	c.mu.Unlock()

	c.metrics.PlayerSessions(n)
	c.metrics.NegotiationDuration("downstream", time.Since(start))

	msg := &protocol.Offer{SDP: offer, PlayerID: playerID}
	if c.cfg.EnableSVC {
		msg.ScalabilityMode = mode
	}
	c.logger.Infow("offering stream to player", "player_id", playerID, "players", n)
	conn.Send(msg)
}

func (c *Controller) finishOffering(playerID string, seq uint64) {
	c.mu.Lock()
	if c.offering[playerID] == seq {
		delete(c.offering, playerID)
	}
	c.mu.Unlock()
}

// releaseLeg closes the leg of playerID. When only is set the leg is released
// only if it still holds that session.
func (c *Controller) releaseLeg(playerID string, only Downstream) {
	c.mu.Lock()
	for i, id := range c.pending {
		if id == playerID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	delete(c.offering, playerID)
	l, ok := c.legs[playerID]
	if !ok || (only != nil && l.session != only) {
		c.mu.Unlock()
		return
	}
	delete(c.legs, playerID)
	n := len(c.legs)
	c.mu.Unlock()

	l.close()
	c.metrics.PlayerSessions(n)
	c.logger.Infow("player session released", "player_id", playerID, "players", n)
}

func (c *Controller) leg(playerID string) *downstreamLeg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.legs[playerID]
}

func (c *Controller) onPlayerAnswer(msg *protocol.Answer) {
	l := c.leg(msg.PlayerID)
	if l == nil {
		c.logger.Warnw("answer for unknown player", "player_id", msg.PlayerID)
		return
	}
	if err := l.session.SetAnswer(msg.SDP); err != nil {
		c.logger.Errorw("failed to apply player answer", "player_id", msg.PlayerID, "error", err)
	}
}

func (c *Controller) onCandidate(msg *protocol.ICECandidate) {
	if msg.Candidate.Candidate == "" {
		return
	}
	candidate := webrtc.ICECandidateInit{
		Candidate:        msg.Candidate.Candidate,
		SDPMid:           msg.Candidate.SDPMid,
		SDPMLineIndex:    msg.Candidate.SDPMLineIndex,
		UsernameFragment: msg.Candidate.UsernameFragment,
	}

	var err error
	if msg.PlayerID == "" {
		c.mu.Lock()
		up := c.upstream
		c.mu.Unlock()
		if up == nil {
			c.logger.Debugw("dropping upstream candidate, no upstream session")
			return
		}
		err = up.AddICECandidate(candidate)
	} else {
		l := c.leg(msg.PlayerID)
		if l == nil {
			c.logger.Debugw("dropping candidate for unknown player", "player_id", msg.PlayerID)
			return
		}
		err = l.session.AddICECandidate(candidate)
	}
	if err != nil {
		c.logger.Warnw("failed to add ICE candidate", "player_id", msg.PlayerID, "error", err)
	}
}

func (c *Controller) onLayerPreference(msg *protocol.LayerPreference) {
	l := c.leg(msg.PlayerID)
	if l == nil {
		c.logger.Debugw("layer preference for unknown player", "player_id", msg.PlayerID)
		return
	}
	l.session.SetLayerPreference(msg.SpatialLayer, msg.TemporalLayer)
}

// allocStreamID returns the next free per-player stream id. c.mu must be held.
func (c *Controller) allocStreamID() uint16 {
	for c.nextStreamID == multiplexStreamID || c.nextStreamID == reservedStreamID {
		c.nextStreamID++
	}
	id := c.nextStreamID
	c.nextStreamID++
	return id
}

// onDataChannelRequest gives a player a dedicated upstream channel bridged
// to a channel on its own session. Multiplexed sessions already share one.
func (c *Controller) onDataChannelRequest(conn *signal.Connection, playerID string) {
	c.mu.Lock()
	up := c.upstream
	l := c.legs[playerID]
	multiplex := c.multiplex
	id := c.allocStreamID()
	c.mu.Unlock()

	if multiplex {
		c.logger.Debugw("ignoring data channel request in multiplex mode", "player_id", playerID)
		return
	}
	if up == nil || l == nil {
		c.logger.Warnw("data channel request without a session", "player_id", playerID)
		return
	}

	upstreamCh, err := up.OpenDataChannel("player-"+playerID, id)
	if err != nil {
		c.logger.Errorw("failed to open upstream data channel", "player_id", playerID, "error", err)
		return
	}
	playerCh, err := l.session.OpenDataChannel("datachannel", id)
	if err != nil {
		_ = upstreamCh.Close()
		c.logger.Errorw("failed to open player data channel", "player_id", playerID, "error", err)
		return
	}
	Bridge(upstreamCh, playerCh, c.metrics)

	c.mu.Lock()
	l.channels = append(l.channels, upstreamCh, playerCh)
	c.mu.Unlock()

	conn.Send(&protocol.StreamerDataChannels{PlayerID: playerID, SendStreamID: id, RecvStreamID: id})
	conn.Send(&protocol.PeerDataChannels{PlayerID: playerID, SendStreamID: id, RecvStreamID: id})
}

func (c *Controller) endSession(conn *signal.Connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	legs := c.legs
	c.legs = make(map[string]*downstreamLeg)
	c.offering = make(map[string]uint64)
	c.pending = nil
	c.resubscribed = false
	var partial Upstream
	if !c.active && c.upstream != nil {
		partial = c.upstream
		c.upstream = nil
	}
	c.negotiating = false
	c.mu.Unlock()

	for _, l := range legs {
		l.close()
	}
	if partial != nil {
		_ = partial.Close()
	}
	c.metrics.PlayerSessions(0)
	c.logger.Infow("signalling session closed", "released_players", len(legs), "partial_upstream_closed", partial != nil)
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	up := c.upstream
	c.upstream = nil
	c.active = false
	c.router = nil
	legs := c.legs
	c.legs = make(map[string]*downstreamLeg)
	c.offering = make(map[string]uint64)
	c.mu.Unlock()

	for _, l := range legs {
		l.close()
	}
	if up != nil {
		_ = up.Close()
	}
}

type nopSFUMetrics struct{}

func (nopSFUMetrics) SetState(string)                           {}
func (nopSFUMetrics) PlayerSessions(int)                        {}
func (nopSFUMetrics) DataFrameRelayed(string, int)              {}
func (nopSFUMetrics) DataFrameDropped(string)                   {}
func (nopSFUMetrics) NegotiationDuration(string, time.Duration) {}
func (nopSFUMetrics) Reconnect()                                {}
