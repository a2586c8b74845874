// Package mock drives simulated participants so a session can be exercised
// without real players.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/notify"
	"github.com/chainhunt/backend/internal/session"
	"github.com/rs/zerolog"
)

// Session is the part of the coordinator bots need.
type Session interface {
	Connect(ctx context.Context, id chain.ParticipantID, name string, authoritative bool, h notify.Handle) error
	Disconnect(id chain.ParticipantID, h notify.Handle)
	ReportKill(caller session.Caller, killer, victim chain.ParticipantID, reply chan<- error) error
}

var botNames = []string{"viper", "raven", "jackal", "mantis", "cobra", "falcon", "lynx", "hornet"}

type bot struct {
	id    chain.ParticipantID
	name  string
	queue *notify.Queue

	mu         sync.Mutex
	target     chain.ParticipantID
	inProgress bool
}

func (b *bot) consume() {
	for msg := range b.queue.C() {
		b.mu.Lock()
		switch msg.Kind {
		case notify.KindTarget:
			b.target = msg.Target
		case notify.KindState:
			b.inProgress = msg.State.InProgress
		}
		b.mu.Unlock()
	}
}

func (b *bot) hunt() (chain.ParticipantID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target, b.inProgress && b.target != chain.NoTarget
}

type MockGenerator struct {
	session      Session
	count        int
	killInterval time.Duration
	rng          *rand.Rand
	log          zerolog.Logger
	bots         []*bot
}

func NewGenerator(sess Session, count int, killInterval time.Duration, log zerolog.Logger) *MockGenerator {
	return &MockGenerator{
		session:      sess,
		count:        count,
		killInterval: killInterval,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		log:          log.With().Str("component", "bots").Logger(),
	}
}

// SetRand replaces the random source. Must be called before Start.
func (g *MockGenerator) SetRand(r *rand.Rand) {
	g.rng = r
}

// Start connects the bots and, when killInterval is positive, begins
// reporting kills on that cadence until ctx is done.
func (g *MockGenerator) Start(ctx context.Context) error {
	for i := 0; i < g.count; i++ {
		name := botNames[i%len(botNames)]
		if i >= len(botNames) {
			name = fmt.Sprintf("%s-%d", name, i/len(botNames)+1)
		}
		b := &bot{
			id:    chain.ParticipantID("bot-" + name),
			name:  name,
			queue: notify.NewQueue(64),
		}
		go b.consume()
		if err := g.session.Connect(ctx, b.id, b.name, false, b.queue); err != nil {
			b.queue.Close()
			return fmt.Errorf("connect bot %s: %w", b.id, err)
		}
		g.bots = append(g.bots, b)
	}
	g.log.Info().Int("count", len(g.bots)).Dur("kill_interval", g.killInterval).Msg("bots connected")

	if g.killInterval > 0 {
		go g.run(ctx)
	}
	return nil
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.killInterval)
	defer ticker.Stop()
	defer g.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}

func (g *MockGenerator) stop() {
	for _, b := range g.bots {
		g.session.Disconnect(b.id, b.queue)
		b.queue.Close()
	}
}

// Step has one randomly chosen bot with a target report killing it. It
// returns false when no bot is hunting.
func (g *MockGenerator) Step() (killer, victim chain.ParticipantID, ok bool) {
	type pair struct{ killer, victim chain.ParticipantID }
	var hunting []pair
	for _, b := range g.bots {
		if t, ok := b.hunt(); ok {
			hunting = append(hunting, pair{b.id, t})
		}
	}
	if len(hunting) == 0 {
		return "", "", false
	}
	sort.Slice(hunting, func(i, j int) bool { return hunting[i].killer < hunting[j].killer })
	p := hunting[g.rng.Intn(len(hunting))]

	if err := g.session.ReportKill(session.Upstream, p.killer, p.victim, nil); err != nil {
		g.log.Warn().Err(err).Msg("bot kill not submitted")
		return "", "", false
	}
	g.log.Debug().Str("killer", string(p.killer)).Str("victim", string(p.victim)).Msg("bot kill")
	return p.killer, p.victim, true
}

// IDs returns the connected bot ids.
func (g *MockGenerator) IDs() []chain.ParticipantID {
	out := make([]chain.ParticipantID, len(g.bots))
	for i, b := range g.bots {
		out[i] = b.id
	}
	return out
}
