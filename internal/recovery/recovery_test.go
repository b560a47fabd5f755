package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatshop/internal/billing"
	"chatshop/internal/cache"
	"chatshop/internal/config"
	"chatshop/internal/convo"
	"chatshop/internal/logging"
	"chatshop/internal/recovery"
	"chatshop/internal/repo"
	"chatshop/internal/repo/repotest"
	"chatshop/internal/tenant"
	"chatshop/internal/wa/watest"
)

type fixture struct {
	repo     *repo.SQLiteRepository
	sender   *watest.Sender
	contacts *convo.KeyLock
	svc      *recovery.Service
	storeID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := repotest.NewSQLite(t)
	storeID := repotest.SeedStore(t, r, repotest.Store{Name: "Tee Shop", Balance: "10", MessageCost: "1"})
	logger := logging.Discard()
	dir := tenant.NewDirectory(r, decimal.NewFromInt(1), logger)
	sender := &watest.Sender{}
	messenger := billing.NewMessenger(billing.NewLedger(r, config.BillingModeAdvisory, logger, nil), sender)
	contacts := convo.NewKeyLock()
	svc := recovery.New(r, dir, messenger, contacts, nil, recovery.Config{MinIdle: time.Hour, MaxIdle: 24 * time.Hour, CurrencySymbol: "₹"}, logger, nil)
	return &fixture{repo: r, sender: sender, contacts: contacts, svc: svc, storeID: storeID}
}

func (f *fixture) seed(t *testing.T, phone, state string, idle time.Duration, items int) {
	t.Helper()
	dc := convo.DialogContext{ProductName: "Tee"}
	for i := 0; i < items; i++ {
		dc.Cart = append(dc.Cart, convo.CartItem{ProductID: "p", ProductName: "Tee", UnitPrice: decimal.NewFromInt(599), Quantity: 1})
	}
	raw, err := dc.Encode()
	require.NoError(t, err)
	_, err = f.repo.SaveConversation(context.Background(), repo.Conversation{
		StoreID:       f.storeID,
		CustomerPhone: phone,
		State:         state,
		Context:       raw,
		UpdatedAt:     time.Now().UTC().Add(-idle),
	})
	require.NoError(t, err)
}

func (f *fixture) state(t *testing.T, phone string) string {
	t.Helper()
	conv, err := f.repo.GetConversation(context.Background(), f.storeID, phone)
	require.NoError(t, err)
	return conv.State
}

func TestSweepNudgesOnceAndFlipsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "911", convo.StateCartActive, 90*time.Minute, 2)

	report, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, convo.StateRecoverySent, f.state(t, "911"))

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{convo.ButtonResumeCheckout, convo.ButtonCancel}, sent[0].ButtonIDs())
	assert.Contains(t, sent[0].Body, "₹1198")
	assert.Equal(t, 1, repotest.Count(t, f.repo, "usage_logs", "store_id = ?", f.storeID))

	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Len(t, f.sender.Sent(), 1)
}

func TestSweepRespectsIdleWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "fresh", convo.StateCartActive, 10*time.Minute, 1)
	f.seed(t, "stale", convo.StateCartActive, 30*time.Hour, 1)
	f.seed(t, "other", convo.StateAwaitingConfirmation, 2*time.Hour, 1)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Empty(t, f.sender.Sent())
}

func TestSweepSkipsEmptyCartAndBusyContact(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "empty", convo.StateCartActive, 2*time.Hour, 0)
	f.seed(t, "busy", convo.StateCartActive, 2*time.Hour, 1)

	unlock, ok := f.contacts.TryLock(convo.ContactKey(f.storeID, "busy"))
	require.True(t, ok)
	defer unlock()

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, f.sender.Sent())
	assert.Equal(t, convo.StateCartActive, f.state(t, "busy"))
}

func TestFailedReminderIsRetriedNextSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "911", convo.StateCartActive, 2*time.Hour, 1)
	f.sender.Fail = func(watest.Sent) error { return errors.New("graph api down") }

	report, err := f.svc.Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, convo.StateCartActive, f.state(t, "911"))
	assert.Zero(t, repotest.Count(t, f.repo, "usage_logs", ""))

	f.sender.Fail = nil
	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, convo.StateRecoverySent, f.state(t, "911"))
}

func TestRedisLockSingleOwner(t *testing.T) {
	srv := miniredis.RunT(t)
	rc := cache.New(cache.Config{Addr: srv.Addr()}, logging.Discard())
	t.Cleanup(func() { _ = rc.Close() })
	ctx := context.Background()

	a, err := recovery.NewRedisLock(rc, cache.Key("lock", "recovery"), time.Minute)
	require.NoError(t, err)
	b, err := recovery.NewRedisLock(rc, cache.Key("lock", "recovery"), time.Minute)
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Release(ctx))
	require.True(t, srv.Exists(cache.Key("lock", "recovery")), "non-owner must not release")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalLock(t *testing.T) {
	var l recovery.LocalLock
	ctx := context.Background()
	ok, _ := l.Acquire(ctx)
	require.True(t, ok)
	ok, _ = l.Acquire(ctx)
	require.False(t, ok)
	require.NoError(t, l.Release(ctx))
	ok, _ = l.Acquire(ctx)
	require.True(t, ok)
}
