package session

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/notify"
	"github.com/rs/zerolog"
)

// Config holds the coordinator's timing and graph settings.
type Config struct {
	Duration       time.Duration
	TickInterval   time.Duration
	StrictPursuers bool
	InboxSize      int
}

// Caller identifies who issued a request. Only authoritative callers may
// start, end, or report kills.
type Caller struct {
	ID            chain.ParticipantID
	Authoritative bool
}

// Upstream is the authoritative caller used by trusted server-side
// collaborators such as the control API and the bot feed.
var Upstream = Caller{Authoritative: true}

// Snapshot is the replicated, read-only view of the session.
type Snapshot struct {
	Phase            Phase         `json:"phase"`
	ClockRemaining   time.Duration `json:"-"`
	ClockRemainingMs int64         `json:"clockRemainingMs"`
	DurationMs       int64         `json:"durationMs"`
	Active           int           `json:"active"`
	Participants     []Participant `json:"participants"`

	edges map[chain.ParticipantID]chain.ParticipantID
}

func (s *Snapshot) InProgress() bool {
	return s.Phase == InProgress
}

type joinCmd struct {
	p     Participant
	reply chan<- error
}

type leaveCmd struct {
	id chain.ParticipantID
	h  notify.Handle
}

type startCmd struct {
	caller Caller
	reply  chan<- error
}

type killCmd struct {
	caller         Caller
	killer, victim chain.ParticipantID
	reply          chan<- error
}

type endCmd struct {
	caller Caller
	reply  chan<- error
}

type resyncCmd struct {
	id chain.ParticipantID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithRand seeds the graph's random source.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = r }
}

// WithClock replaces time.Now for join timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is the single authority over a session. Every mutation of the
// registry, the target graph and the state machine happens on the goroutine
// running Run, one command at a time; other goroutines only enqueue
// requests and read the published Snapshot.
type Coordinator struct {
	cfg      Config
	log      zerolog.Logger
	rng      *rand.Rand
	now      func() time.Time
	registry *Registry
	graph    *chain.Graph
	machine  *Machine
	dispatch *notify.Dispatcher

	inbox    chan any
	done     chan struct{}
	snapshot atomic.Pointer[Snapshot]

	lastPublished notify.State
	published     bool

	// eliminated remembers victims for the life of the session so that
	// reconnecting does not put them back in the hunt.
	eliminated map[chain.ParticipantID]int

	events        chan<- Event
	eventsDropped int64
}

func NewCoordinator(cfg Config, opts ...Option) *Coordinator {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	c := &Coordinator{
		cfg:      cfg,
		log:      zerolog.Nop(),
		now:      time.Now,
		registry: NewRegistry(),
		machine:  NewMachine(cfg.Duration),
		inbox:    make(chan any, cfg.InboxSize),
		done:     make(chan struct{}),

		eliminated: make(map[chain.ParticipantID]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "coordinator").Logger()
	c.dispatch = notify.NewDispatcher(c.registry, c.log)

	graphOpts := []chain.Option{chain.WithStrictInverse(cfg.StrictPursuers)}
	if c.rng != nil {
		graphOpts = append(graphOpts, chain.WithRand(c.rng))
	}
	c.graph = chain.New(c.dispatch, graphOpts...)
	c.storeSnapshot()
	return c
}

// SetEvents configures a channel for lifecycle events. Sends never block;
// events are dropped when the consumer falls behind. Pass nil to disable.
// Must be called before Run.
func (c *Coordinator) SetEvents(ch chan<- Event) {
	c.events = ch
}

// SetObserver configures the notification delivery observer. Must be called
// before Run.
func (c *Coordinator) SetObserver(o notify.Observer) {
	c.dispatch.SetObserver(o)
}

// Run processes requests and clock ticks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	last := time.Now()

	c.log.Info().Dur("duration", c.cfg.Duration).Dur("tick", c.cfg.TickInterval).
		Bool("strict_pursuers", c.cfg.StrictPursuers).Msg("coordinator running")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("coordinator stopping")
			return ctx.Err()
		case cmd := <-c.inbox:
			c.handle(cmd)
		case now := <-ticker.C:
			c.tick(now.Sub(last))
			last = now
		}
	}
}

// Done is closed once Run returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Connect registers a participant reachable through h and waits for the
// coordinator to accept it. It returns ErrAlreadyRegistered if id is taken.
func (c *Coordinator) Connect(ctx context.Context, id chain.ParticipantID, name string, authoritative bool, h notify.Handle) error {
	p := Participant{ID: id, Name: name, Authoritative: authoritative, Handle: h}
	done := make(chan error, 1)
	if err := c.enqueueWait(ctx, joinCmd{p: p, reply: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect unregisters id if it is still registered through h. It blocks
// until queued or the coordinator stops so a departure is never lost to a
// full inbox.
func (c *Coordinator) Disconnect(id chain.ParticipantID, h notify.Handle) {
	_ = c.enqueueWait(context.Background(), leaveCmd{id: id, h: h})
}

// RequestStart asks the coordinator to start the session. The outcome is
// sent on reply, which must have room for one value; nil discards it.
func (c *Coordinator) RequestStart(caller Caller, reply chan<- error) error {
	return c.enqueue(startCmd{caller: caller, reply: reply})
}

// ReportKill reports that killer eliminated victim.
func (c *Coordinator) ReportKill(caller Caller, killer, victim chain.ParticipantID, reply chan<- error) error {
	return c.enqueue(killCmd{caller: caller, killer: killer, victim: victim, reply: reply})
}

// End forces the session to its terminal phase.
func (c *Coordinator) End(caller Caller, reply chan<- error) error {
	return c.enqueue(endCmd{caller: caller, reply: reply})
}

// Resync re-sends id its welcome, current edges and session state.
func (c *Coordinator) Resync(id chain.ParticipantID) error {
	return c.enqueue(resyncCmd{id: id})
}

// Snapshot returns the most recently published session view.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// ClockRemaining returns the replicated clock.
func (c *Coordinator) ClockRemaining() time.Duration {
	return c.snapshot.Load().ClockRemaining
}

// InProgress returns the replicated in-progress flag.
func (c *Coordinator) InProgress() bool {
	return c.snapshot.Load().InProgress()
}

// Edges returns a copy of the target mapping as of the last snapshot.
func (c *Coordinator) Edges() map[chain.ParticipantID]chain.ParticipantID {
	src := c.snapshot.Load().edges
	out := make(map[chain.ParticipantID]chain.ParticipantID, len(src))
	for p, t := range src {
		out[p] = t
	}
	return out
}

func (c *Coordinator) enqueue(cmd any) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.inbox <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

func (c *Coordinator) enqueueWait(ctx context.Context, cmd any) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.inbox <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handle(cmd any) {
	switch cmd := cmd.(type) {
	case joinCmd:
		reply(cmd.reply, c.join(cmd.p))
	case leaveCmd:
		c.leave(cmd.id, cmd.h)
	case startCmd:
		reply(cmd.reply, c.start(cmd.caller))
	case killCmd:
		reply(cmd.reply, c.kill(cmd.caller, cmd.killer, cmd.victim))
	case endCmd:
		reply(cmd.reply, c.end(cmd.caller))
	case resyncCmd:
		c.resync(cmd.id)
	default:
		c.log.Error().Interface("command", cmd).Msg("unknown coordinator command")
		return
	}
	c.replicate()
}

func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (c *Coordinator) join(p Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = c.now()
	}
	kills, wasEliminated := c.eliminated[p.ID]
	p.Eliminated = wasEliminated
	p.Kills = kills
	if !c.registry.Register(p) {
		c.log.Warn().Str("participant", string(p.ID)).Msg("duplicate registration refused")
		return ErrAlreadyRegistered
	}
	c.log.Info().Str("participant", string(p.ID)).Str("name", p.Name).
		Bool("authoritative", p.Authoritative).Msg("participant joined")

	c.dispatch.Send(p.ID, notify.Message{
		Kind:    notify.KindWelcome,
		Welcome: &notify.Welcome{ID: p.ID, Name: p.Name, Authoritative: p.Authoritative},
	})
	c.dispatch.Send(p.ID, c.stateMessage())
	c.emit(Event{Type: EventJoined, Participant: p.ID})

	if p.Eliminated {
		c.dispatch.NotifyTarget(p.ID, chain.NoTarget)
		return nil
	}
	if c.machine.Phase() != Ended && c.registry.ActiveCount() >= MinParticipants {
		c.rebuild("join")
	}
	return nil
}

func (c *Coordinator) leave(id chain.ParticipantID, h notify.Handle) {
	if cur, ok := c.registry.Get(id); !ok || cur.Handle != h {
		c.log.Debug().Str("participant", string(id)).Msg("leave from a stale handle ignored")
		return
	}
	p, _ := c.registry.Unregister(id)
	if p.Eliminated {
		c.eliminated[id] = p.Kills
	}
	c.log.Info().Str("participant", string(id)).Msg("participant left")

	// Excision notifications are queued before any rebuild's.
	c.graph.Excise(id)
	c.emit(Event{Type: EventLeft, Participant: id})

	if p.Eliminated || c.machine.Phase() == Ended {
		return
	}
	if c.registry.ActiveCount() >= MinParticipants {
		c.rebuild("leave")
	} else {
		c.graph.Clear()
	}
}

func (c *Coordinator) start(caller Caller) error {
	if !caller.Authoritative {
		return c.reject(caller, "start", ErrNotAuthorized)
	}
	if err := c.machine.RequestStart(c.registry.ActiveCount()); err != nil {
		return c.reject(caller, "start", err)
	}
	c.log.Info().Int("active", c.registry.ActiveCount()).Dur("duration", c.machine.Duration()).
		Msg("session started")
	c.rebuild("start")
	c.emit(Event{Type: EventStarted, Participant: caller.ID})
	return nil
}

func (c *Coordinator) kill(caller Caller, killer, victim chain.ParticipantID) error {
	if !caller.Authoritative {
		return c.reject(caller, "kill", ErrNotAuthorized)
	}
	if c.machine.Phase() != InProgress {
		return c.reject(caller, "kill", ErrNotInProgress)
	}
	if killer == victim {
		return c.reject(caller, "kill", ErrSelfKill)
	}
	if !c.registry.IsActive(killer) || !c.registry.IsActive(victim) {
		return c.reject(caller, "kill", ErrUnknownParticipant)
	}

	c.graph.ResolveKill(killer, victim)
	c.registry.Eliminate(victim)
	c.registry.CreditKill(killer)
	c.dispatch.NotifyTarget(victim, chain.NoTarget)
	c.dispatch.NotifyPursuers(victim, nil)

	c.log.Info().Str("killer", string(killer)).Str("victim", string(victim)).
		Int("active", c.registry.ActiveCount()).Msg("kill resolved")
	c.emit(Event{Type: EventKill, Participant: killer, Victim: victim})

	if c.registry.ActiveCount() < MinParticipants {
		c.graph.Clear()
		return nil
	}
	c.repair("kill")
	return nil
}

func (c *Coordinator) end(caller Caller) error {
	if !caller.Authoritative {
		return c.reject(caller, "end", ErrNotAuthorized)
	}
	if !c.machine.End() {
		return c.reject(caller, "end", ErrSessionEnded)
	}
	c.finish("ended by request")
	return nil
}

func (c *Coordinator) resync(id chain.ParticipantID) {
	p, ok := c.registry.Get(id)
	if !ok {
		return
	}
	c.dispatch.Send(id, notify.Message{
		Kind:    notify.KindWelcome,
		Welcome: &notify.Welcome{ID: p.ID, Name: p.Name, Authoritative: p.Authoritative},
	})
	target, _ := c.graph.Target(id)
	c.dispatch.NotifyTarget(id, target)
	c.dispatch.NotifyPursuers(id, c.graph.Pursuers(id))
	c.dispatch.Send(id, c.stateMessage())
}

func (c *Coordinator) tick(elapsed time.Duration) {
	if c.machine.Tick(elapsed) {
		c.finish("clock expired")
	}
	c.replicate()
}

func (c *Coordinator) finish(reason string) {
	c.graph.Clear()
	c.log.Info().Str("reason", reason).Int("active", c.registry.ActiveCount()).Msg("session ended")
	c.emit(Event{Type: EventEnded, Reason: reason})
}

func (c *Coordinator) rebuild(cause string) {
	active := c.registry.Active()
	c.graph.BuildCycle(active)
	c.log.Debug().Str("cause", cause).Int("active", len(active)).Msg("target cycle rebuilt")
	c.emit(Event{Type: EventRebuilt, Reason: cause})
}

// repair checks the graph after an incremental change and falls back to a
// full rebuild if the single-cycle invariant no longer holds.
func (c *Coordinator) repair(cause string) {
	if err := c.graph.Validate(c.registry.Active()); err != nil {
		c.log.Warn().Err(err).Str("cause", cause).Msg("incremental repair left an invalid graph, rebuilding")
		c.rebuild(cause)
	}
}

func (c *Coordinator) reject(caller Caller, op string, err error) error {
	c.log.Warn().Err(err).Str("op", op).Str("caller", string(caller.ID)).
		Bool("authoritative", caller.Authoritative).Msg("request rejected")
	c.emit(Event{Type: EventRejected, Participant: caller.ID, Reason: err.Error()})
	if caller.ID != "" {
		c.dispatch.Send(caller.ID, notify.Message{Kind: notify.KindRejected, Reason: op + ": " + err.Error()})
	}
	return err
}

func (c *Coordinator) emit(ev Event) {
	if c.events == nil {
		return
	}
	ev.At = c.now()
	ev.Active = c.registry.ActiveCount()
	select {
	case c.events <- ev:
	default:
		c.eventsDropped++
		if c.eventsDropped == 1 || c.eventsDropped%100 == 0 {
			c.log.Warn().Int64("dropped", c.eventsDropped).Msg("event consumer falling behind")
		}
	}
}

func (c *Coordinator) state() notify.State {
	return notify.State{
		Phase:            c.machine.Phase().String(),
		InProgress:       c.machine.InProgress(),
		ClockRemainingMs: c.machine.Remaining().Milliseconds(),
		DurationMs:       c.machine.Duration().Milliseconds(),
		Active:           c.registry.ActiveCount(),
		Connected:        c.registry.Len(),
	}
}

func (c *Coordinator) stateMessage() notify.Message {
	st := c.state()
	return notify.Message{Kind: notify.KindState, State: &st}
}

// replicate refreshes the snapshot and pushes state to observers whenever
// any replicated value changed, so a mirror is at most one tick behind.
func (c *Coordinator) replicate() {
	c.storeSnapshot()

	st := c.state()
	if c.published && st == c.lastPublished {
		return
	}
	c.dispatch.Publish(st)
	c.lastPublished = st
	c.published = true
}

func (c *Coordinator) storeSnapshot() {
	remaining := c.machine.Remaining()
	c.snapshot.Store(&Snapshot{
		Phase:            c.machine.Phase(),
		ClockRemaining:   remaining,
		ClockRemainingMs: remaining.Milliseconds(),
		DurationMs:       c.machine.Duration().Milliseconds(),
		Active:           c.registry.ActiveCount(),
		Participants:     c.registry.All(),
		edges:            c.graph.Edges(),
	})
}
