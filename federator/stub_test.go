package federator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/types"
)

// stubAdapter is a scripted backend.Adapter.
type stubAdapter struct {
	count      int
	records    int
	diag       *types.Diagnostic
	connectErr error
	delay      time.Duration
	// hang blocks Search until Disconnect, ignoring the context.
	hang bool
	// stuck blocks Search forever.
	stuck   bool
	panicOn bool

	query       atomic.Value
	disconnects atomic.Int32
	closed      chan struct{}
	closeOnce   sync.Once

	// active, when set, tracks concurrently running searches.
	active    *atomic.Int32
	maxActive *atomic.Int32
}

func newStub(count int) *stubAdapter {
	return &stubAdapter{count: count, records: min(count, 3), closed: make(chan struct{})}
}

func (s *stubAdapter) Connect(context.Context) error {
	return s.connectErr
}

func (s *stubAdapter) Search(ctx context.Context, req backend.SearchRequest) (*backend.SearchResult, *types.Diagnostic) {
	s.query.Store(req.Query)
	if s.active != nil {
		n := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			m := s.maxActive.Load()
			if n <= m || s.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
	}
	if s.panicOn {
		panic("stub exploded")
	}
	if s.stuck {
		select {}
	}
	if s.hang {
		<-s.closed
		return nil, types.NonSurrogate(types.DiagConnection, types.CodeTemporarilyUnavailable, "connection closed")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, types.Timeout("stub cancelled")
		}
	}
	if s.diag != nil {
		return nil, s.diag
	}
	res := &backend.SearchResult{Count: s.count}
	for i := range s.records {
		res.Records = append(res.Records, types.RawRecord{Position: req.From + i, Data: []byte("rec")})
	}
	return res, nil
}

func (s *stubAdapter) Disconnect() error {
	s.disconnects.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stubAdapter) seenQuery() string {
	q, _ := s.query.Load().(string)
	return q
}

// stubFactory hands out stubs by target name and counts creations.
type stubFactory struct {
	mu      sync.Mutex
	stubs   map[string]*stubAdapter
	created map[string]int
}

func newStubFactory(stubs map[string]*stubAdapter) *stubFactory {
	return &stubFactory{stubs: stubs, created: make(map[string]int)}
}

func (f *stubFactory) New(spec types.TargetSpec) (backend.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[spec.Name]++
	s, ok := f.stubs[spec.Name]
	if !ok {
		return nil, backend.ErrUnknownKind
	}
	return s, nil
}

func (f *stubFactory) createdCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[name]
}
