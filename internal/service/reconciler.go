package service

import (
	"context"
	"sync"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/cache"
	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/resolver"
	"github.com/bcnelson/ipauth-sync/internal/storage"
	"github.com/bcnelson/ipauth-sync/internal/webshare"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultInterval   = 5 * time.Minute
	DefaultRetryDelay = 10 * time.Second
)

// Options controls reconciliation timing and startup behavior.
type Options struct {
	Interval      time.Duration // time between steady cycles
	RetryDelay    time.Duration // fixed delay between resolve/list retries
	WipeOnStartup bool          // revoke every remote authorization during bootstrap

	// OnReady, if set, is called by Run once bootstrap has completed.
	OnReady func()
}

// Reconciler keeps the remote allow-list converged on the resolved addresses.
// All reconciliation runs on one goroutine; the cache is only written from it.
type Reconciler struct {
	resolver resolver.Resolver
	client   webshare.AuthorizationClient
	store    storage.Storage // optional cycle history
	cache    *cache.Cache
	log      logs.Log
	opts     Options

	trigger chan struct{}

	mu        sync.RWMutex
	phase     domain.Phase
	lastCycle *domain.CycleReport
}

// NewReconciler creates a new Reconciler. store may be nil.
func NewReconciler(res resolver.Resolver, client webshare.AuthorizationClient, store storage.Storage, logger logs.Log, opts Options) *Reconciler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Reconciler{
		resolver: res,
		client:   client,
		store:    store,
		cache:    cache.New(),
		log:      logger,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		phase:    domain.PhaseBootstrapping,
	}
}

// Cache returns the reconciler's address cache.
func (r *Reconciler) Cache() *cache.Cache {
	return r.cache
}

// Phase returns the current lifecycle phase.
func (r *Reconciler) Phase() domain.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Reconciler) setPhase(p domain.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// LastCycle returns the most recent report, or nil before bootstrap completes.
func (r *Reconciler) LastCycle() *domain.CycleReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCycle
}

// Status returns a snapshot for the status API.
func (r *Reconciler) Status() *domain.StatusResponse {
	return &domain.StatusResponse{
		Phase:     r.Phase(),
		Entries:   r.cache.Snapshot(),
		LastCycle: r.LastCycle(),
	}
}

// callContext detaches a remote call from shutdown so that an in-flight
// request is never aborted; cancellation is observed between calls.
func callContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Bootstrap derives the initial cache from the resolved addresses and the
// remote allow-list. It only returns an error when ctx is cancelled.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	r.setPhase(domain.PhaseBootstrapping)
	report := r.newReport(domain.CycleKindBootstrap)

	resolved, err := r.resolveWithRetry(ctx)
	if err != nil {
		return err
	}
	report.Resolved = resolved.Strings()
	r.log.Infof("Current remote IP addresses: %v", report.Resolved)

	for _, addr := range resolved.Sorted() {
		r.cache.Upsert(addr, "")
	}

	remote, err := r.listWithRetry(ctx)
	if err != nil {
		return err
	}
	r.log.Infof("Current IP address authorizations: %d", len(remote))
	for _, rec := range remote {
		r.log.Infof("%v => %v", rec.ID, rec.Address)
	}

	if r.opts.WipeOnStartup {
		r.revokeAll(ctx, report, remote)
	} else {
		for _, rec := range remote {
			id, ok := r.cache.Lookup(rec.Address)
			if !ok || id != "" {
				continue
			}
			r.cache.Upsert(rec.Address, rec.ID)
			report.Adopted++
			r.recordEvent(report, domain.ActionAdopt, rec.Address, rec.ID, nil)
			r.log.Infof("%v is already authorized as %v", rec.Address, rec.ID)
		}
	}

	for _, addr := range r.cache.Pending().Sorted() {
		r.log.Infof("Authorizing %v...", addr)
		r.authorize(ctx, report, addr, domain.ActionCreate)
	}

	r.finish(report)
	r.setPhase(domain.PhaseSteady)
	return nil
}

// revokeAll deletes every remote record. Cache ids stay empty so every
// resolved address is recreated afterwards.
func (r *Reconciler) revokeAll(ctx context.Context, report *domain.CycleReport, remote domain.AuthorizationList) {
	if len(remote) == 0 {
		r.log.Infof("IP authorization list is empty. Skipping revokes...")
		return
	}

	r.log.Infof("Revoking all authorizations...")
	for _, rec := range remote {
		r.revoke(ctx, report, rec)
	}
}

// RunCycle performs one steady-state reconciliation pass. It only returns an
// error when ctx is cancelled while waiting for address resolution.
func (r *Reconciler) RunCycle(ctx context.Context) (*domain.CycleReport, error) {
	report := r.newReport(domain.CycleKindSteady)

	resolved, err := r.resolveWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	report.Resolved = resolved.Strings()

	added, removed := Diff(resolved, r.cache.Addresses())
	report.Added = added.Strings()
	report.Removed = removed.Strings()
	if len(added) == 0 && len(removed) == 0 {
		r.log.Infof("Remote IP addresses have not changed: %v", report.Resolved)
	} else {
		r.log.Infof("Remote IP addresses changed: added %v, removed %v", report.Added, report.Removed)
	}

	remote, err := r.client.List(callContext(ctx))
	if err != nil {
		// Nothing is applied against an unknown remote state.
		r.log.Errorf("Could not get IP address authorization list, skipping this cycle: %v", err)
		report.Status = domain.CycleStatusSkipped
		report.Error = err.Error()
		r.finish(report)
		return report, nil
	}

	for _, addr := range removed.Sorted() {
		if rec, ok := remote.Find(addr); ok {
			r.log.Infof("Revoking old IP address %v...", addr)
			r.revoke(ctx, report, rec)
		} else {
			r.log.Infof("%v does not seem to be authorized, no revoke needed", addr)
		}
		r.cache.Remove(addr)
	}

	for _, addr := range added.Sorted() {
		if rec, ok := remote.Find(addr); ok {
			r.cache.Upsert(addr, rec.ID)
			report.Adopted++
			r.recordEvent(report, domain.ActionAdopt, addr, rec.ID, nil)
			r.log.Infof("%v is already authorized as %v", addr, rec.ID)
			continue
		}
		r.log.Infof("Authorizing new IP address %v...", addr)
		r.authorize(ctx, report, addr, domain.ActionCreate)
	}

	r.heal(ctx, report, remote, added)

	r.finish(report)
	return report, nil
}

// heal re-authorizes cached addresses that disappeared from the remote list
// and refreshes stale ids. Addresses handled by this cycle's add step are
// skipped: they were applied after the list was fetched.
func (r *Reconciler) heal(ctx context.Context, report *domain.CycleReport, remote domain.AuthorizationList, added domain.AddressSet) {
	for _, addr := range r.cache.Addresses().Minus(added).Sorted() {
		if rec, ok := remote.Find(addr); ok {
			if id, _ := r.cache.Lookup(addr); id != rec.ID {
				r.cache.Upsert(addr, rec.ID)
				r.log.Debugf("Refreshed authorization id for %v: %q -> %v", addr, id, rec.ID)
			}
			continue
		}
		r.log.Warnf("%v is missing from the authorization list. Re-authorizing...", addr)
		r.authorize(ctx, report, addr, domain.ActionHeal)
	}
}

// authorize creates an authorization for addr. On failure the address stays
// cached without an id and is retried by a later cycle.
func (r *Reconciler) authorize(ctx context.Context, report *domain.CycleReport, addr domain.Address, action string) {
	auth, err := r.client.Create(callContext(ctx), addr)
	if err != nil {
		r.cache.Upsert(addr, "")
		report.Failures++
		r.recordEvent(report, action, addr, "", err)
		r.log.Errorf("Error while authorizing IP address %v: %v", addr, err)
		return
	}

	r.cache.Upsert(addr, auth.ID)
	report.Created++
	r.recordEvent(report, action, addr, auth.ID, nil)
	r.log.Infof("%v => %v", auth.ID, addr)
}

// revoke deletes one remote record. Failures are logged and never retried.
func (r *Reconciler) revoke(ctx context.Context, report *domain.CycleReport, rec domain.Authorization) {
	if err := r.client.Delete(callContext(ctx), rec.ID); err != nil {
		report.Failures++
		r.recordEvent(report, domain.ActionRevoke, rec.Address, rec.ID, err)
		r.log.Errorf("Error while revoking authorization %v for %v: %v", rec.ID, rec.Address, err)
		return
	}

	report.Revoked++
	r.recordEvent(report, domain.ActionRevoke, rec.Address, rec.ID, nil)
	r.log.Infof("X %v", rec.Address)
}

// resolveWithRetry blocks until the address set is known or ctx is cancelled.
func (r *Reconciler) resolveWithRetry(ctx context.Context) (domain.AddressSet, error) {
	var resolved domain.AddressSet
	err := retry.Do(ctx, retry.NewConstant(r.opts.RetryDelay), func(ctx context.Context) error {
		set, err := r.resolver.Resolve(callContext(ctx))
		if err != nil {
			r.log.Errorf("Could not get current remote IP address: %v. Retrying in %v...", err, r.opts.RetryDelay)
			return retry.RetryableError(err)
		}
		resolved = set
		return nil
	})
	return resolved, err
}

// listWithRetry blocks until the remote list is fetched or ctx is cancelled.
func (r *Reconciler) listWithRetry(ctx context.Context) (domain.AuthorizationList, error) {
	var remote domain.AuthorizationList
	err := retry.Do(ctx, retry.NewConstant(r.opts.RetryDelay), func(ctx context.Context) error {
		list, err := r.client.List(callContext(ctx))
		if err != nil {
			r.log.Errorf("Could not get IP address authorization list: %v. Retrying in %v...", err, r.opts.RetryDelay)
			return retry.RetryableError(err)
		}
		remote = list
		return nil
	})
	return remote, err
}

func (r *Reconciler) newReport(kind domain.CycleKind) *domain.CycleReport {
	return &domain.CycleReport{
		ID:        uuid.New().String(),
		Kind:      kind,
		Resolved:  []string{},
		Added:     []string{},
		Removed:   []string{},
		StartedAt: time.Now(),
	}
}

func (r *Reconciler) recordEvent(report *domain.CycleReport, action string, addr domain.Address, authID string, err error) {
	ev := &domain.AuthorizationEvent{
		ID:              uuid.New().String(),
		CycleID:         report.ID,
		Action:          action,
		Address:         string(addr),
		AuthorizationID: authID,
		Success:         err == nil,
		CreatedAt:       time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	report.Events = append(report.Events, ev)
}

// finish stamps the report, publishes it for the status API and writes it to
// the history store. History failures never affect reconciliation.
func (r *Reconciler) finish(report *domain.CycleReport) {
	now := time.Now()
	report.FinishedAt = &now
	if report.Status == "" {
		report.Status = domain.CycleStatusSuccess
		if report.Failures > 0 {
			report.Status = domain.CycleStatusPartial
		}
	}

	r.mu.Lock()
	r.lastCycle = report
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	if err := storage.SaveCycle(context.Background(), r.store, report); err != nil {
		r.log.Warnf("Failed to record %v %v: %v", report.Kind, report.ID, err)
	}
}
