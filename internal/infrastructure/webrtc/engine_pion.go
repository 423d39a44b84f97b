package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"pixelrelay/internal/core/domain"
	rlog "pixelrelay/pkg/logger"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const rtpBufferSize = 1500

// PionConfig configures the pion engine.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// PionEngine is the in-process Engine built on pion/webrtc.
type PionEngine struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger

	failOnce sync.Once
	done     chan struct{}
	mu       sync.Mutex
	err      error
}

func NewPionEngine(cfg PionConfig, logger *zap.SugaredLogger) (*PionEngine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: rlog.NewPionLoggerFactory(logger),
	}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &PionEngine{
		api: api,
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (e *PionEngine) Done() <-chan struct{} { return e.done }

func (e *PionEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *PionEngine) Close() error {
	e.fail(errors.New("engine closed"))
	return nil
}

func (e *PionEngine) fail(err error) {
	e.failOnce.Do(func() {
		e.mu.Lock()
		e.err = fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *PionEngine) newPeerConnection() (*webrtc.PeerConnection, error) {
	select {
	case <-e.done:
		return nil, e.Err()
	default:
	}

	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		e.logger.Errorw("failed to create peer connection", "error", err)
		e.fail(err)
		return nil, e.Err()
	}
	return pc, nil
}

func (e *PionEngine) NewUpstream(ctx context.Context, opts UpstreamOptions) (Upstream, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, err
	}

	u := &pionUpstream{
		pc:     pc,
		logger: e.logger.With("leg", "upstream", "scalability_mode", opts.ScalabilityMode),
		tracks: make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP),
	}
	pc.OnTrack(u.handleTrack)
	return u, nil
}

func (e *PionEngine) NewDownstream(ctx context.Context, playerID string, source Upstream, opts DownstreamOptions) (Downstream, error) {
	up, ok := source.(*pionUpstream)
	if !ok {
		return nil, fmt.Errorf("downstream for %s: %w", playerID, domain.ErrNoUpstream)
	}

	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, err
	}

	d := &pionDownstream{
		pc:       pc,
		playerID: playerID,
		logger:   e.logger.With("leg", "downstream", "player_id", playerID),
	}

	for _, track := range up.localTracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		go d.readRTCP(sender)
	}

	if opts.DataChannel {
		dc, err := pc.CreateDataChannel("datachannel", nil)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		dc.OnOpen(func() {
			d.mu.Lock()
			fn := d.onData
			d.mu.Unlock()
			if fn != nil {
				fn(&pionDataChannel{dc: dc})
			}
		})
		return d, nil
	}

	// Channels requested later are negotiated on this association, so the
	// offer has to carry an application section from the start.
	if _, err := openNegotiated(pc, "sctp", reservedStreamID); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return d, nil
}

type pionUpstream struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	tracks    map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP
	videoSSRC webrtc.SSRC
}

func (u *pionUpstream) Answer(ctx context.Context, offer string) (string, error) {
	if err := u.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("failed to apply offer: %w", err)
	}
	answer, err := u.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(u.pc)
	if err := u.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	u.createLocalTracks()

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return u.pc.LocalDescription().SDP, nil
}

// createLocalTracks allocates one forwarding track per negotiated kind so
// players can be offered media before the first packet arrives.
func (u *pionUpstream) createLocalTracks() {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, t := range u.pc.GetTransceivers() {
		receiver := t.Receiver()
		if receiver == nil {
			continue
		}
		if _, exists := u.tracks[t.Kind()]; exists {
			continue
		}
		params := receiver.GetParameters()
		if len(params.Codecs) == 0 {
			continue
		}
		local, err := webrtc.NewTrackLocalStaticRTP(params.Codecs[0].RTPCodecCapability, t.Kind().String(), "pixelrelay")
		if err != nil {
			u.logger.Warnw("failed to create forwarding track", "kind", t.Kind(), "error", err)
			continue
		}
		u.tracks[t.Kind()] = local
	}
}

func (u *pionUpstream) localTracks() []*webrtc.TrackLocalStaticRTP {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]*webrtc.TrackLocalStaticRTP, 0, len(u.tracks))
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if t, ok := u.tracks[kind]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (u *pionUpstream) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	u.logger.Infow("upstream track started",
		"track_id", remote.ID(),
		"kind", remote.Kind(),
		"codec", remote.Codec().MimeType,
	)

	u.mu.Lock()
	local, ok := u.tracks[remote.Kind()]
	if !ok {
		var err error
		local, err = webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.Kind().String(), "pixelrelay")
		if err != nil {
			u.mu.Unlock()
			u.logger.Errorw("failed to create forwarding track", "track_id", remote.ID(), "error", err)
			return
		}
		u.tracks[remote.Kind()] = local
	}
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		u.videoSSRC = remote.SSRC()
	}
	u.mu.Unlock()

	go u.drainRTCP(receiver)
	u.forward(remote, local)
}

func (u *pionUpstream) forward(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, rtpBufferSize)
	packet := &rtp.Packet{}
	var forwarded uint64

	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			u.logger.Infow("upstream track ended", "track_id", remote.ID(), "packets_forwarded", forwarded, "error", err)
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			u.logger.Debugw("error unmarshaling RTP packet", "track_id", remote.ID(), "error", err)
			continue
		}
		if err := local.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			u.logger.Debugw("error writing RTP packet", "track_id", remote.ID(), "error", err)
		}
		forwarded++
	}
}

// drainRTCP keeps the receiver interceptors running.
func (u *pionUpstream) drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (u *pionUpstream) AddICECandidate(c webrtc.ICECandidateInit) error {
	return u.pc.AddICECandidate(c)
}

func (u *pionUpstream) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	u.pc.OnICEConnectionStateChange(fn)
}

func (u *pionUpstream) OpenDataChannel(label string, id uint16) (DataChannel, error) {
	return openNegotiated(u.pc, label, id)
}

func (u *pionUpstream) RequestKeyframe() error {
	u.mu.RLock()
	ssrc := u.videoSSRC
	u.mu.RUnlock()
	if ssrc == 0 {
		return nil
	}
	return u.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
}

func (u *pionUpstream) Close() error {
	return u.pc.Close()
}

type pionDownstream struct {
	pc       *webrtc.PeerConnection
	playerID string
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	onData     func(DataChannel)
	onKeyframe func()
	spatial    int
	temporal   int
}

func (d *pionDownstream) Offer(ctx context.Context) (string, error) {
	offer, err := d.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(d.pc)
	if err := d.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return d.pc.LocalDescription().SDP, nil
}

func (d *pionDownstream) SetAnswer(answer string) error {
	return d.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer})
}

func (d *pionDownstream) AddICECandidate(c webrtc.ICECandidateInit) error {
	return d.pc.AddICECandidate(c)
}

func (d *pionDownstream) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	d.pc.OnICEConnectionStateChange(fn)
}

func (d *pionDownstream) OnDataChannel(fn func(DataChannel)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

func (d *pionDownstream) OpenDataChannel(label string, id uint16) (DataChannel, error) {
	return openNegotiated(d.pc, label, id)
}

func (d *pionDownstream) OnKeyframeRequest(fn func()) {
	d.mu.Lock()
	d.onKeyframe = fn
	d.mu.Unlock()
}

// SetLayerPreference records the requested layers. Forwarding is single
// layer, so the preference only shows up in logs.
func (d *pionDownstream) SetLayerPreference(spatial, temporal int) {
	d.mu.Lock()
	d.spatial, d.temporal = spatial, temporal
	d.mu.Unlock()
	d.logger.Infow("layer preference updated", "spatial_layer", spatial, "temporal_layer", temporal)
}

func (d *pionDownstream) Close() error {
	return d.pc.Close()
}

func (d *pionDownstream) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				d.mu.Lock()
				fn := d.onKeyframe
				d.mu.Unlock()
				if fn != nil {
					fn()
				}
			}
		}
	}
}

func openNegotiated(pc *webrtc.PeerConnection, label string, id uint16) (DataChannel, error) {
	negotiated := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data channel %q on stream %d: %w", label, id, err)
	}
	return &pionDataChannel{dc: dc}, nil
}

// pionDataChannel adapts *webrtc.DataChannel to DataChannel. Send always
// uses the binary payload type.
type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionDataChannel) Label() string          { return c.dc.Label() }
func (c *pionDataChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c *pionDataChannel) Close() error           { return c.dc.Close() }
func (c *pionDataChannel) OnClose(fn func())      { c.dc.OnClose(fn) }

func (c *pionDataChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}
