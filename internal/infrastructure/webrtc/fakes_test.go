package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pixelrelay/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

var errChannelClosed = errors.New("data channel closed")

type fakeDataChannel struct {
	label string
	id    uint16

	mu        sync.Mutex
	sent      [][]byte
	onMessage func([]byte)
	onClose   func()
	closed    bool
}

func newFakeChannel(label string) *fakeDataChannel {
	return &fakeDataChannel{label: label}
}

func (f *fakeDataChannel) Label() string { return f.label }

func (f *fakeDataChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errChannelClosed
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeDataChannel) OnMessage(fn func([]byte)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *fakeDataChannel) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeDataChannel) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// deliver simulates a message arriving from the remote side.
func (f *fakeDataChannel) deliver(data []byte) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (f *fakeDataChannel) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeDataChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeEngine struct {
	upstreams   chan *fakeUpstream
	downstreams chan *fakeDownstream

	mu    sync.Mutex
	gates map[string]chan struct{}

	once sync.Once
	done chan struct{}
	err  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		upstreams:   make(chan *fakeUpstream, 8),
		downstreams: make(chan *fakeDownstream, 8),
		done:        make(chan struct{}),
	}
}

func (e *fakeEngine) NewUpstream(ctx context.Context, opts UpstreamOptions) (Upstream, error) {
	select {
	case <-e.done:
		return nil, e.err
	default:
	}
	u := &fakeUpstream{mode: opts.ScalabilityMode}
	e.upstreams <- u
	return u, nil
}

func (e *fakeEngine) NewDownstream(ctx context.Context, playerID string, source Upstream, opts DownstreamOptions) (Downstream, error) {
	if source == nil {
		return nil, domain.ErrNoUpstream
	}
	e.mu.Lock()
	gate := e.gates[playerID]
	e.mu.Unlock()
	d := &fakeDownstream{playerID: playerID, dataChannel: opts.DataChannel, gate: gate}
	e.downstreams <- d
	return d, nil
}

// holdOffer makes offers for playerID block until the returned channel is
// closed.
func (e *fakeEngine) holdOffer(playerID string) chan struct{} {
	gate := make(chan struct{})
	e.mu.Lock()
	if e.gates == nil {
		e.gates = make(map[string]chan struct{})
	}
	e.gates[playerID] = gate
	e.mu.Unlock()
	return gate
}

func (e *fakeEngine) Done() <-chan struct{} { return e.done }
func (e *fakeEngine) Err() error            { return e.err }
func (e *fakeEngine) Close() error          { return nil }

func (e *fakeEngine) fail() {
	e.once.Do(func() {
		e.err = fmt.Errorf("%w: worker exited", domain.ErrEngineUnavailable)
		close(e.done)
	})
}

type fakeUpstream struct {
	mode string

	mu         sync.Mutex
	offer      string
	onICE      func(webrtc.ICEConnectionState)
	channels   []*fakeDataChannel
	candidates []webrtc.ICECandidateInit
	closed     bool
	keyframes  atomic.Int32
}

func (u *fakeUpstream) Answer(ctx context.Context, offer string) (string, error) {
	u.mu.Lock()
	u.offer = offer
	u.mu.Unlock()
	return "answer-sdp", nil
}

func (u *fakeUpstream) AddICECandidate(c webrtc.ICECandidateInit) error {
	u.mu.Lock()
	u.candidates = append(u.candidates, c)
	u.mu.Unlock()
	return nil
}

func (u *fakeUpstream) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	u.mu.Lock()
	u.onICE = fn
	u.mu.Unlock()
}

func (u *fakeUpstream) setICE(state webrtc.ICEConnectionState) {
	u.mu.Lock()
	fn := u.onICE
	u.mu.Unlock()
	fn(state)
}

func (u *fakeUpstream) OpenDataChannel(label string, id uint16) (DataChannel, error) {
	ch := newFakeChannel(label)
	ch.id = id
	u.mu.Lock()
	u.channels = append(u.channels, ch)
	u.mu.Unlock()
	return ch, nil
}

func (u *fakeUpstream) openedChannels() []*fakeDataChannel {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*fakeDataChannel(nil), u.channels...)
}

func (u *fakeUpstream) RequestKeyframe() error {
	u.keyframes.Add(1)
	return nil
}

func (u *fakeUpstream) Close() error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	return nil
}

func (u *fakeUpstream) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

type fakeDownstream struct {
	playerID    string
	dataChannel bool
	gate        chan struct{}

	mu         sync.Mutex
	answer     string
	onData     func(DataChannel)
	onKeyframe func()
	onICE      func(webrtc.ICEConnectionState)
	channels   []*fakeDataChannel
	spatial    int
	temporal   int
	closed     bool
}

func (d *fakeDownstream) Offer(ctx context.Context) (string, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "offer-for-" + d.playerID, nil
}

func (d *fakeDownstream) SetAnswer(answer string) error {
	d.mu.Lock()
	d.answer = answer
	d.mu.Unlock()
	return nil
}

func (d *fakeDownstream) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (d *fakeDownstream) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	d.mu.Lock()
	d.onICE = fn
	d.mu.Unlock()
}

func (d *fakeDownstream) OnDataChannel(fn func(DataChannel)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

// openData simulates the player's in-band channel opening.
func (d *fakeDownstream) openData(ch DataChannel) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func (d *fakeDownstream) OpenDataChannel(label string, id uint16) (DataChannel, error) {
	ch := newFakeChannel(label)
	ch.id = id
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDownstream) OnKeyframeRequest(fn func()) {
	d.mu.Lock()
	d.onKeyframe = fn
	d.mu.Unlock()
}

func (d *fakeDownstream) keyframe() {
	d.mu.Lock()
	fn := d.onKeyframe
	d.mu.Unlock()
	fn()
}

func (d *fakeDownstream) SetLayerPreference(spatial, temporal int) {
	d.mu.Lock()
	d.spatial, d.temporal = spatial, temporal
	d.mu.Unlock()
}

func (d *fakeDownstream) layers() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spatial, d.temporal
}

func (d *fakeDownstream) gotAnswer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.answer
}

func (d *fakeDownstream) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDownstream) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
