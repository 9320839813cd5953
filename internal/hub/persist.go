package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/store"
)

// persister is the write-behind queue between actors and the Store.
// Snapshots are coalesced per game: only the newest pending one is written.
// Failures are logged and never reach the game.
type persister struct {
	st      store.Store
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]*game.Game // nil value = delete
	order   []string
	jobs    []func(ctx context.Context) error
	wake    chan struct{}

	flushMu sync.Mutex // keeps batches in order
}

func newPersister(st store.Store, timeout time.Duration, log zerolog.Logger) *persister {
	return &persister{
		st:      st,
		timeout: timeout,
		log:     log,
		pending: make(map[string]*game.Game),
		wake:    make(chan struct{}, 1),
	}
}

func (p *persister) save(g *game.Game) { p.put(g.ID, g) }

func (p *persister) delete(id string) { p.put(id, nil) }

func (p *persister) put(id string, g *game.Game) {
	p.mu.Lock()
	if _, queued := p.pending[id]; !queued {
		p.order = append(p.order, id)
	}
	p.pending[id] = g
	p.mu.Unlock()
	p.notify()
}

// job queues a side write (e.g. stats) behind the pending snapshots.
func (p *persister) job(fn func(ctx context.Context) error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, fn)
	p.mu.Unlock()
	p.notify()
}

func (p *persister) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-ctx.Done():
			p.flush()
			return
		}
	}
}

// flush writes everything queued so far.
func (p *persister) flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	pending, order, jobs := p.pending, p.order, p.jobs
	p.pending = make(map[string]*game.Game)
	p.order, p.jobs = nil, nil
	p.mu.Unlock()

	for _, id := range order {
		g := pending[id]
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		var err error
		if g == nil {
			err = p.st.Delete(ctx, id)
		} else {
			err = p.st.Save(ctx, g)
		}
		cancel()
		if err != nil {
			p.log.Warn().Err(err).Str("gameId", id).Bool("delete", g == nil).Msg("persist failed; serving from memory")
		}
	}
	for _, fn := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := fn(ctx); err != nil {
			p.log.Warn().Err(err).Msg("background write failed")
		}
		cancel()
	}
}
