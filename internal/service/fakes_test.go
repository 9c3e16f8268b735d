package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/bcnelson/ipauth-sync/internal/domain"
)

var errRemote = &domain.GatewayError{Op: "test", StatusCode: 500, Err: domain.ErrGatewayApplication}

// fakeResolver returns queued results in order, repeating the last one.
type fakeResolver struct {
	mu      sync.Mutex
	results []resolveResult
	calls   int
}

type resolveResult struct {
	set domain.AddressSet
	err error
}

func newFakeResolver(addrs ...domain.Address) *fakeResolver {
	r := &fakeResolver{}
	r.push(addrs...)
	return r
}

func (r *fakeResolver) push(addrs ...domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, resolveResult{set: domain.NewAddressSet(addrs...)})
}

func (r *fakeResolver) fail(times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < times; i++ {
		r.results = append(r.results, resolveResult{err: domain.ErrResolution})
	}
}

func (r *fakeResolver) Resolve(ctx context.Context) (domain.AddressSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		r.calls++
		return nil, domain.ErrResolution
	}
	res := r.results[min(r.calls, len(r.results)-1)]
	r.calls++
	if res.err != nil {
		return nil, res.err
	}
	return domain.NewAddressSet(res.set.Sorted()...), nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeGateway is an in-memory remote allow-list that records every call.
type fakeGateway struct {
	mu      sync.Mutex
	records domain.AuthorizationList
	nextID  int

	listFailures int // number of upcoming List calls that fail
	createErr    map[domain.Address]error
	deleteErr    map[string]error

	lists   int
	creates []domain.Address
	deletes []string
}

func newFakeGateway(records ...domain.Authorization) *fakeGateway {
	return &fakeGateway{
		records:   append(domain.AuthorizationList{}, records...),
		nextID:    100,
		createErr: make(map[domain.Address]error),
		deleteErr: make(map[string]error),
	}
}

func (g *fakeGateway) List(ctx context.Context) (domain.AuthorizationList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists++
	if g.listFailures > 0 {
		g.listFailures--
		return nil, errRemote
	}
	return append(domain.AuthorizationList{}, g.records...), nil
}

func (g *fakeGateway) Create(ctx context.Context, addr domain.Address) (*domain.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, addr)
	if err := g.createErr[addr]; err != nil {
		return nil, err
	}
	g.nextID++
	rec := domain.Authorization{ID: strconv.Itoa(g.nextID), Address: addr}
	g.records = append(g.records, rec)
	return &rec, nil
}

func (g *fakeGateway) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, id)
	if err := g.deleteErr[id]; err != nil {
		return err
	}
	for i, rec := range g.records {
		if rec.ID == id {
			g.records = append(g.records[:i], g.records[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

// revokeOutOfBand removes a record without going through the daemon.
func (g *fakeGateway) revokeOutOfBand(addr domain.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, rec := range g.records {
		if rec.Address == addr {
			g.records = append(g.records[:i], g.records[i+1:]...)
			return
		}
	}
}

// resetCalls clears the call log, keeping remote state.
func (g *fakeGateway) resetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists = 0
	g.creates = nil
	g.deletes = nil
}

func (g *fakeGateway) idFor(addr domain.Address) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, _ := g.records.Find(addr)
	return rec.ID
}

func (g *fakeGateway) createCalls() []domain.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Address(nil), g.creates...)
}

func (g *fakeGateway) deleteCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deletes...)
}
