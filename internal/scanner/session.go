// Package scanner runs camera scanner sessions: it samples frames on a fixed
// cadence, decodes codes, looks them up in the inventory and drives the
// found/not-found/cooldown cycle and the borrow/return actions.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/metrics"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/utils"
)

// ErrClosed is returned by Open when Close ran while the camera was starting.
var ErrClosed = errors.New("scanner session closed")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLookingUp Phase = "looking_up"
	PhaseCooldown  Phase = "cooldown"
)

type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeTimedOut Outcome = "timed_out"
)

// Snapshot is the observable state of a session.
type Snapshot struct {
	Active           bool                 `json:"active"`
	Scanning         bool                 `json:"scanning"`
	LastCode         string               `json:"last_code,omitempty"`
	CooldownUntil    time.Time            `json:"cooldown_until"`
	Phase            Phase                `json:"phase"`
	Outcome          Outcome              `json:"outcome,omitempty"`
	Result           *models.LookupResult `json:"result,omitempty"`
	Error            string               `json:"error,omitempty"`
	DecoderAvailable bool                 `json:"decoder_available"`
	ActionPending    bool                 `json:"action_pending"`
}

// CanAct reports whether borrow/return are enabled.
func (s Snapshot) CanAct() bool {
	return s.Result != nil && s.Result.Found && s.Result.Record != nil && !s.ActionPending
}

type Options struct {
	Camera    Camera
	Inventory Inventory
	// Decoder overrides probing; nil means ProbeDecoder(DecoderName, Formats).
	Decoder     Decoder
	DecoderName string
	Formats     []string

	Notifier  Notifier
	Navigator Navigator
	Cues      CuePlayer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Clock     clock.Clock

	// BaseContext is the parent of every lookup and action context. It
	// carries the operator identity.
	BaseContext context.Context

	Constraints   Constraints
	TickInterval  time.Duration
	NavigateDelay time.Duration
	Cooldown      time.Duration
	// LookupTimeout bounds lookups and actions; negative disables, zero means 10s.
	LookupTimeout time.Duration
	Fields        []string
	Station       string
}

type Session struct {
	camera    Camera
	decoder   Decoder
	inventory Inventory
	notifier  Notifier
	navigator Navigator
	cues      CuePlayer
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     clock.Clock
	base      context.Context

	constraints   Constraints
	tickInterval  time.Duration
	navigateDelay time.Duration
	cooldown      time.Duration
	lookupTimeout time.Duration
	fields        []string
	station       string

	mu       sync.Mutex
	gen      uint64
	opening  bool
	stream   Stream
	ticker   *clock.Ticker
	stopLoop chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	cycle    uint64
	navTimer *clock.Timer
	coolTime *clock.Timer
	acting   bool
	state    Snapshot

	subs   map[int]chan Snapshot
	nextID int
}

func NewSession(opts Options) *Session {
	s := &Session{
		camera:        opts.Camera,
		decoder:       opts.Decoder,
		inventory:     opts.Inventory,
		notifier:      opts.Notifier,
		navigator:     opts.Navigator,
		cues:          opts.Cues,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		logger:        utils.OrDefault(opts.Logger),
		clock:         opts.Clock,
		base:          opts.BaseContext,
		constraints:   opts.Constraints,
		tickInterval:  opts.TickInterval,
		navigateDelay: opts.NavigateDelay,
		cooldown:      opts.Cooldown,
		lookupTimeout: opts.LookupTimeout,
		fields:        opts.Fields,
		station:       opts.Station,
		subs:          make(map[int]chan Snapshot),
	}
	if s.decoder == nil {
		s.decoder = ProbeDecoder(opts.DecoderName, opts.Formats, s.logger)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.navigator == nil {
		s.navigator = nopNavigator{}
	}
	if s.cues == nil {
		s.cues = nopCues{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.base == nil {
		s.base = context.Background()
	}
	if s.tickInterval <= 0 {
		s.tickInterval = 500 * time.Millisecond
	}
	if s.navigateDelay < 0 {
		s.navigateDelay = 0
	}
	if s.cooldown <= 0 {
		s.cooldown = 3 * time.Second
	}
	if s.lookupTimeout == 0 {
		s.lookupTimeout = 10 * time.Second
	}
	if len(s.fields) == 0 {
		s.fields = models.LookupFields
	}
	if s.constraints.FacingMode == "" {
		s.constraints = Constraints{FacingMode: "environment", IdealWidth: 1280, IdealHeight: 720}
	}
	s.state = Snapshot{Phase: PhaseIdle, DecoderAvailable: s.decoder.Available()}
	return s
}

// ===== Lifecycle =====

// Open acquires a camera stream and starts the scan loop. On failure the
// session stays inactive with Error set; calling Open again retries.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Active || s.opening {
		s.mu.Unlock()
		return nil
	}
	if s.camera == nil {
		s.state.Error = CameraErrorMessage(ErrNoCamera)
		s.emitLocked()
		s.mu.Unlock()
		return ErrNoCamera
	}
	s.opening = true
	gen := s.gen
	s.mu.Unlock()

	stream, err := s.camera.Open(ctx, s.constraints)

	s.mu.Lock()
	s.opening = false
	if err != nil {
		s.state.Active = false
		s.state.Error = CameraErrorMessage(err)
		s.emitLocked()
		s.mu.Unlock()
		s.logger.Warn("Camera open failed", "error", err)
		return err
	}
	if gen != s.gen {
		s.mu.Unlock()
		stopTracks(stream)
		return ErrClosed
	}
	s.stream = stream
	s.ticker = s.clock.Ticker(s.tickInterval)
	s.stopLoop = make(chan struct{})
	s.state.Active = true
	s.state.Error = ""
	go s.loop(gen, s.ticker, s.stopLoop)
	s.emitLocked()
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.logger.Info("Scanner session opened", "tracks", len(stream.Tracks()), "decoder", s.decoder.Available())
	return nil
}

// Close stops every track, the scan loop and every pending timer. In-flight
// lookups and actions are cancelled and their results dropped. Close is
// idempotent and safe before a successful Open.
func (s *Session) Close() {
	s.mu.Lock()
	s.gen++
	s.cycle++
	stream := s.stream
	s.stream = nil
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.stopLoop != nil {
		close(s.stopLoop)
		s.stopLoop = nil
	}
	if s.navTimer != nil {
		s.navTimer.Stop()
		s.navTimer = nil
	}
	if s.coolTime != nil {
		s.coolTime.Stop()
		s.coolTime = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.ctx = nil
	}
	wasActive := s.state.Active
	s.state.Active = false
	s.state.Scanning = false
	s.state.LastCode = ""
	s.state.CooldownUntil = time.Time{}
	s.state.Phase = PhaseIdle
	s.state.Result = nil
	s.state.ActionPending = false
	s.emitLocked()
	s.mu.Unlock()

	stopTracks(stream)
	if wasActive {
		s.metrics.SessionClosed()
		s.logger.Info("Scanner session closed")
	}
}

// Run opens the camera and blocks until ctx is done, then closes the
// session. A camera failure does not end Run: manual entry keeps working.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	if err := s.Open(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Scanning without camera", "error", err)
	}
	<-ctx.Done()
	return nil
}

// ===== State =====

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel carrying the latest snapshot after every
// change. Slow readers only miss intermediate states. The returned func
// unsubscribes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.state
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// emitLocked delivers the current state to subscribers; s.mu must be held.
func (s *Session) emitLocked() {
	snap := s.state
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// cycleCtxLocked returns the context lookups and actions derive from. It is
// cancelled by Close.
func (s *Session) cycleCtxLocked() context.Context {
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(s.base)
	}
	return s.ctx
}
