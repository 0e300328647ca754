package isolate

import (
	"sync"

	"go.uber.org/zap"
)

// Pool keeps idle isolates for reuse. An isolate taken with Get belongs to
// the caller's goroutine until it is returned with Put.
type Pool struct {
	params CreateParams
	m      sync.Mutex
	saved  []*Isolate
	closed bool
}

func NewPool(params CreateParams) *Pool {
	return &Pool{
		params: params,
		saved:  make([]*Isolate, 0, 4),
	}
}

// Get returns an idle isolate, creating one when none is left.
func (p *Pool) Get() (*Isolate, error) {
	p.m.Lock()
	n := len(p.saved)
	if n == 0 {
		p.m.Unlock()
		return p.New()
	}
	iso := p.saved[n-1]
	p.saved = p.saved[:n-1]
	p.m.Unlock()
	return iso, nil
}

// Put returns iso to the pool. Isolates that aborted, were disposed, or
// arrive after Shutdown are disposed instead.
func (p *Pool) Put(iso *Isolate) {
	if iso == nil || iso.disposed {
		return
	}
	p.m.Lock()
	if p.closed || iso.aborted != nil || len(iso.scopes) > 0 {
		p.m.Unlock()
		iso.logger.Debug("dropping isolate returned to pool", zap.Bool("aborted", iso.aborted != nil))
		iso.Dispose()
		return
	}
	p.saved = append(p.saved, iso)
	p.m.Unlock()
}

// Shutdown disposes the idle isolates. Isolates still checked out are
// disposed when they are put back.
func (p *Pool) Shutdown() {
	p.m.Lock()
	saved := p.saved
	p.saved = nil
	p.closed = true
	p.m.Unlock()
	for _, iso := range saved {
		iso.Dispose()
	}
}

func (p *Pool) New() (*Isolate, error) {
	return NewIsolate(p.params)
}

// Idle is the number of isolates waiting in the pool.
func (p *Pool) Idle() int {
	p.m.Lock()
	defer p.m.Unlock()
	return len(p.saved)
}
