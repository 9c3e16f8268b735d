package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/service"
	"github.com/bcnelson/ipauth-sync/internal/storage/memory"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(t *testing.T, res *fakeResolver, gw *fakeGateway, wipe bool) *service.Reconciler {
	return service.NewReconciler(res, gw, nil, logs.NewTestingLog(t), service.Options{
		Interval:      time.Hour,
		RetryDelay:    time.Millisecond,
		WipeOnStartup: wipe,
	})
}

func entries(r *service.Reconciler) map[string]string {
	out := make(map[string]string)
	for _, e := range r.Cache().Snapshot() {
		out[e.Address] = e.AuthorizationID
	}
	return out
}

func TestBootstrapCreatesMissingAuthorization(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)

	require.NoError(t, r.Bootstrap(context.Background()))

	assert.Equal(t, []domain.Address{"1.2.3.4"}, gw.createCalls())
	assert.Empty(t, gw.deleteCalls())
	assert.Equal(t, map[string]string{"1.2.3.4": gw.idFor("1.2.3.4")}, entries(r))
	assert.NotEmpty(t, gw.idFor("1.2.3.4"))
	assert.Equal(t, domain.PhaseSteady, r.Phase())

	last := r.LastCycle()
	require.NotNil(t, last)
	assert.Equal(t, domain.CycleKindBootstrap, last.Kind)
	assert.Equal(t, domain.CycleStatusSuccess, last.Status)
	assert.Equal(t, 1, last.Created)
}

func TestBootstrapAdoptsExistingAuthorization(t *testing.T) {
	res := newFakeResolver("1.2.3.4", "5.6.7.8")
	gw := newFakeGateway(
		domain.Authorization{ID: "7", Address: "1.2.3.4"},
		domain.Authorization{ID: "8", Address: "9.9.9.9"},
	)
	r := newReconciler(t, res, gw, false)

	require.NoError(t, r.Bootstrap(context.Background()))

	assert.Equal(t, []domain.Address{"5.6.7.8"}, gw.createCalls())
	assert.Empty(t, gw.deleteCalls(), "unrelated records are left alone without wipe")
	assert.Equal(t, map[string]string{
		"1.2.3.4": "7",
		"5.6.7.8": gw.idFor("5.6.7.8"),
	}, entries(r))
	assert.Equal(t, 1, r.LastCycle().Adopted)
}

func TestBootstrapWipe(t *testing.T) {
	res := newFakeResolver("1.2.3.4", "5.6.7.8")
	gw := newFakeGateway(
		domain.Authorization{ID: "7", Address: "1.2.3.4"},
		domain.Authorization{ID: "8", Address: "9.9.9.9"},
	)
	gw.createErr["5.6.7.8"] = errRemote
	r := newReconciler(t, res, gw, true)

	require.NoError(t, r.Bootstrap(context.Background()))

	assert.ElementsMatch(t, []string{"7", "8"}, gw.deleteCalls(), "every pre-existing record is revoked")
	assert.ElementsMatch(t, []domain.Address{"1.2.3.4", "5.6.7.8"}, gw.createCalls())

	got := entries(r)
	assert.Len(t, got, 2)
	assert.NotEqual(t, "7", got["1.2.3.4"], "wiped address gets a fresh id")
	assert.Equal(t, gw.idFor("1.2.3.4"), got["1.2.3.4"])
	assert.Empty(t, got["5.6.7.8"], "failed create leaves the id unset")

	last := r.LastCycle()
	assert.Equal(t, domain.CycleStatusPartial, last.Status)
	assert.Equal(t, 2, last.Revoked)
	assert.Equal(t, 1, last.Failures)
}

func TestBootstrapWipeEmptyList(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, true)

	require.NoError(t, r.Bootstrap(context.Background()))

	assert.Empty(t, gw.deleteCalls())
	assert.Equal(t, []domain.Address{"1.2.3.4"}, gw.createCalls())
}

func TestBootstrapRetriesResolution(t *testing.T) {
	res := &fakeResolver{}
	res.fail(2)
	res.push("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)

	require.NoError(t, r.Bootstrap(context.Background()))

	assert.Equal(t, 3, res.callCount())
	assert.Equal(t, []domain.Address{"1.2.3.4"}, gw.createCalls())
}

func TestBootstrapRetriesList(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway(domain.Authorization{ID: "7", Address: "1.2.3.4"})
	gw.listFailures = 2
	r := newReconciler(t, res, gw, false)

	require.NoError(t, r.Bootstrap(context.Background()))

	assert.Equal(t, 3, gw.lists)
	assert.Empty(t, gw.createCalls(), "must not create before the list is known")
	assert.Equal(t, map[string]string{"1.2.3.4": "7"}, entries(r))
}

func TestBootstrapCancelledWhileResolving(t *testing.T) {
	res := &fakeResolver{}
	res.fail(1)
	gw := newFakeGateway()
	r := service.NewReconciler(res, gw, nil, logs.NewTestingLog(t), service.Options{
		Interval:   time.Hour,
		RetryDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Bootstrap(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, gw.lists, "never proceeds on an unknown address")
	assert.Equal(t, 0, r.Cache().Len())
}

func TestCycleAddressChange(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	oldID := gw.idFor("1.2.3.4")
	gw.resetCalls()

	res.push("5.6.7.8")
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"5.6.7.8"}, report.Added)
	assert.Equal(t, []string{"1.2.3.4"}, report.Removed)
	assert.Equal(t, []string{oldID}, gw.deleteCalls())
	assert.Equal(t, []domain.Address{"5.6.7.8"}, gw.createCalls())
	assert.Equal(t, map[string]string{"5.6.7.8": gw.idFor("5.6.7.8")}, entries(r))
	assert.Equal(t, 1, gw.lists, "the list is fetched once per cycle")
	assert.Equal(t, domain.CycleStatusSuccess, report.Status)
}

func TestCycleIdempotent(t *testing.T) {
	res := newFakeResolver("1.2.3.4", "2001:db8::1")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	gw.resetCalls()

	for i := 0; i < 2; i++ {
		report, err := r.RunCycle(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Added)
		assert.Empty(t, report.Removed)
	}

	assert.Empty(t, gw.createCalls())
	assert.Empty(t, gw.deleteCalls())
}

func TestCycleListFailureSkipsApply(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	before := entries(r)
	gw.resetCalls()

	res.push("5.6.7.8")
	gw.listFailures = 1
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.CycleStatusSkipped, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Empty(t, gw.createCalls())
	assert.Empty(t, gw.deleteCalls())
	assert.Equal(t, before, entries(r), "cache unchanged when the list is unavailable")

	// The next cycle proceeds from scratch.
	report, err = r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleStatusSuccess, report.Status)
	assert.Equal(t, []domain.Address{"5.6.7.8"}, gw.createCalls())
	assert.Len(t, gw.deleteCalls(), 1)
	assert.Equal(t, map[string]string{"5.6.7.8": gw.idFor("5.6.7.8")}, entries(r))
}

func TestCycleSelfHealing(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	gw.resetCalls()

	gw.revokeOutOfBand("1.2.3.4")
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.Address{"1.2.3.4"}, gw.createCalls())
	assert.Equal(t, gw.idFor("1.2.3.4"), entries(r)["1.2.3.4"])
	require.Len(t, report.Events, 1)
	assert.Equal(t, domain.ActionHeal, report.Events[0].Action)
}

func TestCycleRevokeFailureStillDropsAddress(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	oldID := gw.idFor("1.2.3.4")
	gw.deleteErr[oldID] = errRemote
	gw.resetCalls()

	res.push("5.6.7.8")
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{oldID}, gw.deleteCalls())
	_, tracked := r.Cache().Lookup("1.2.3.4")
	assert.False(t, tracked)
	assert.Equal(t, domain.CycleStatusPartial, report.Status)

	// Not retried on the next cycle.
	gw.resetCalls()
	_, err = r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, gw.deleteCalls())
}

func TestCycleReturningAddressAdoptsStaleRecord(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	oldID := gw.idFor("1.2.3.4")
	gw.deleteErr[oldID] = errRemote

	res.push("5.6.7.8")
	_, err := r.RunCycle(ctx)
	require.NoError(t, err)

	// The old address comes back while its revoke never went through.
	gw.resetCalls()
	res.push("1.2.3.4", "5.6.7.8")
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Empty(t, gw.createCalls(), "no duplicate authorization is created")
	assert.Equal(t, oldID, entries(r)["1.2.3.4"])
	assert.Equal(t, 1, report.Adopted)
}

func TestCycleRemovedAddressNotRemote(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	gw.createErr["1.2.3.4"] = errRemote
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	assert.Equal(t, map[string]string{"1.2.3.4": ""}, entries(r))
	gw.resetCalls()

	res.push("5.6.7.8")
	_, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Empty(t, gw.deleteCalls(), "no revoke needed for an address that was never authorized")
	assert.Equal(t, map[string]string{"5.6.7.8": gw.idFor("5.6.7.8")}, entries(r))
}

func TestCycleCreateFailureRetriedBySweep(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	gw.resetCalls()

	res.push("1.2.3.4", "5.6.7.8")
	gw.createErr["5.6.7.8"] = errRemote
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.Address{"5.6.7.8"}, gw.createCalls(), "not retried within the same cycle")
	assert.Equal(t, domain.CycleStatusPartial, report.Status)
	id, tracked := r.Cache().Lookup("5.6.7.8")
	assert.True(t, tracked, "still tracked as should-be-authorized")
	assert.Empty(t, id)

	delete(gw.createErr, "5.6.7.8")
	gw.resetCalls()
	report, err = r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.Address{"5.6.7.8"}, gw.createCalls())
	assert.Equal(t, gw.idFor("5.6.7.8"), entries(r)["5.6.7.8"])
	assert.Equal(t, domain.CycleStatusSuccess, report.Status)
}

func TestCycleAdoptsAddedAddressAlreadyRemote(t *testing.T) {
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway(domain.Authorization{ID: "55", Address: "5.6.7.8"})
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	gw.resetCalls()

	res.push("1.2.3.4", "5.6.7.8")
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	assert.Empty(t, gw.createCalls())
	assert.Equal(t, "55", entries(r)["5.6.7.8"])
	assert.Equal(t, 1, report.Adopted)
}

func TestCacheMatchesResolvedAfterCycle(t *testing.T) {
	sets := [][]domain.Address{
		{"1.1.1.1"},
		{"1.1.1.1", "2.2.2.2"},
		{"3.3.3.3"},
		{"2.2.2.2", "3.3.3.3", "2001:db8::1"},
		{"2001:db8::1"},
		{"1.1.1.1"},
	}

	res := newFakeResolver(sets[0]...)
	gw := newFakeGateway()
	r := newReconciler(t, res, gw, false)
	ctx := context.Background()
	require.NoError(t, r.Bootstrap(ctx))

	for _, set := range sets[1:] {
		res.push(set...)
		_, err := r.RunCycle(ctx)
		require.NoError(t, err)

		want := domain.NewAddressSet(set...)
		assert.Equal(t, want, r.Cache().Addresses())

		remote, err := gw.List(ctx)
		require.NoError(t, err)
		got := domain.NewAddressSet()
		for _, rec := range remote {
			got.Add(rec.Address)
		}
		assert.Equal(t, want, got, "remote converges on the resolved set")
	}
}

func TestCyclesRecordedInHistory(t *testing.T) {
	store := memory.New()
	res := newFakeResolver("1.2.3.4")
	gw := newFakeGateway()
	r := service.NewReconciler(res, gw, store, logs.NewTestingLog(t), service.Options{
		Interval:   time.Hour,
		RetryDelay: time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))
	res.push("5.6.7.8")
	report, err := r.RunCycle(ctx)
	require.NoError(t, err)

	cycles, err := store.ListCycles(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	latest, err := store.GetLatestCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.ID, latest.ID)

	events, err := store.ListEvents(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.ActionRevoke, events[0].Action)
	assert.Equal(t, domain.ActionCreate, events[1].Action)
	assert.True(t, events[1].Success)
}
