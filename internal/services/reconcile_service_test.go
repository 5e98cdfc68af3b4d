package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftc-tickets/internal/services/bank"
	"ftc-tickets/internal/status"
	"ftc-tickets/models"
)

func seedPendingGroup(store *fakeStore, bulkID, reference string, count int) {
	for i := 0; i < count; i++ {
		store.addUnit(&models.TicketUnit{
			TicketNo:         "FTC260300" + string(rune('1'+i)),
			ShortCode:        "CODE" + string(rune('A'+i)) + string(rune('A'+i)),
			BulkOrderID:      bulkID,
			Name:             "Ada",
			Email:            "ada@example.com",
			TicketType:       "Regular",
			Price:            5000,
			Quantity:         count,
			PaymentStatus:    models.PaymentPending,
			PaymentReference: reference,
			Created:          time.Now(),
		})
	}
}

func successCharge(reference string) *bank.Charge {
	return &bank.Charge{
		Reference:  reference,
		Status:     bank.ChargeSuccess,
		PayerEmail: "ada@example.com",
	}
}

func reconcileFixture(t *testing.T, gateway *fakeGateway) (*ReconcileService, *fakeStore, *fakeNotifier, *fakePublisher) {
	t.Helper()

	store := newFakeStore()
	store.addType(regularTier())
	notifier := newFakeNotifier()
	publisher := &fakePublisher{}

	svc := NewReconcileService(store, gateway, testCodes, notifier, publisher, nil, time.Second)
	return svc, store, notifier, publisher
}

func waitForNotify(t *testing.T, n *fakeNotifier) {
	t.Helper()
	select {
	case <-n.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never sent")
	}
}

func TestReconcileConfirmsGroup(t *testing.T) {
	gateway := &fakeGateway{charge: successCharge("ref-1")}
	svc, store, notifier, publisher := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 2)

	outcome, err := svc.Reconcile(context.Background(), &Signal{
		Trigger:   TriggerWebhook,
		Reference: "ref-1",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, outcome.Status)
	assert.Equal(t, "BULK1", outcome.BulkOrderID)
	require.Len(t, outcome.Units, 2)

	for _, u := range outcome.Units {
		stored := store.unit(u.ID)
		assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)
		assert.NotEmpty(t, stored.EntryCode, "paid units get an entry code")
		assert.NotNil(t, stored.PaidAt)
	}

	tier, err := store.FindType(context.Background(), "Regular")
	require.NoError(t, err)
	assert.Equal(t, 2, tier.Sold, "sold is recomputed from paid units")

	waitForNotify(t, notifier)
	assert.Equal(t, 1, notifier.sentCount())
	assert.Equal(t, []string{"BULK1"}, publisher.published())
}

func TestReconcileDuplicateSignalIsIdempotent(t *testing.T) {
	gateway := &fakeGateway{charge: successCharge("ref-1")}
	svc, store, notifier, _ := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 2)

	first, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerWebhook, Reference: "ref-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, first.Status)
	waitForNotify(t, notifier)

	// the client poll lands after the webhook already settled everything
	second, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerClientPoll, Reference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPaid, second.Status)

	assert.Equal(t, 1, gateway.verifyCount(), "already-paid groups never hit the gateway again")
	assert.Equal(t, 1, notifier.sentCount(), "exactly one confirmation email per order")

	tier, err := store.FindType(context.Background(), "Regular")
	require.NoError(t, err)
	assert.Equal(t, 2, tier.Sold)
}

func TestReconcileConcurrentSignals(t *testing.T) {
	gateway := &fakeGateway{charge: successCharge("ref-1")}
	svc, store, notifier, _ := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 1)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		trigger := TriggerWebhook
		if i == 1 {
			trigger = TriggerClientPoll
		}
		wg.Add(1)
		go func(trigger string) {
			defer wg.Done()
			_, err := svc.Reconcile(context.Background(), &Signal{Trigger: trigger, Reference: "ref-1"})
			assert.NoError(t, err)
		}(trigger)
	}
	wg.Wait()

	waitForNotify(t, notifier)
	assert.Equal(t, 1, notifier.sentCount(), "racing channels still produce one email")

	tier, err := store.FindType(context.Background(), "Regular")
	require.NoError(t, err)
	assert.Equal(t, 1, tier.Sold, "racing channels never double-count a sale")
}

func TestReconcileRecoversLostReference(t *testing.T) {
	gateway := &fakeGateway{charge: successCharge("ref-1")}
	svc, store, notifier, _ := reconcileFixture(t, gateway)

	// the reference write after Initiate was lost
	seedPendingGroup(store, "BULK1", "", 2)

	outcome, err := svc.Reconcile(context.Background(), &Signal{
		Trigger:     TriggerWebhook,
		Reference:   "ref-1",
		BulkOrderID: "BULK1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome.Status)
	waitForNotify(t, notifier)

	// the reference is repaired so future signals resolve directly
	units, err := store.UnitsByReference(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestReconcileRecoversByMetadataFromGateway(t *testing.T) {
	charge := successCharge("ref-1")
	charge.Metadata.BulkOrderID = "BULK1"
	gateway := &fakeGateway{charge: charge}
	svc, store, notifier, _ := reconcileFixture(t, gateway)

	seedPendingGroup(store, "BULK1", "", 1)

	// signal carries only the reference; the group id comes back from the
	// gateway's metadata echo
	outcome, err := svc.Reconcile(context.Background(), &Signal{
		Trigger:   TriggerClientPoll,
		Reference: "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome.Status)
	waitForNotify(t, notifier)

	assert.Equal(t, 1, gateway.verifyCount(), "the resolve-time verify is reused for settlement")
}

func TestReconcileRecoversByPayerEmail(t *testing.T) {
	gateway := &fakeGateway{charge: successCharge("ref-1")}
	svc, store, notifier, _ := reconcileFixture(t, gateway)

	seedPendingGroup(store, "BULK1", "", 1)

	outcome, err := svc.Reconcile(context.Background(), &Signal{
		Trigger:   TriggerClientPoll,
		Reference: "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome.Status)
	assert.Equal(t, "BULK1", outcome.BulkOrderID)
	waitForNotify(t, notifier)
}

func TestReconcileFailedCharge(t *testing.T) {
	gateway := &fakeGateway{charge: &bank.Charge{Reference: "ref-1", Status: bank.ChargeFailed}}
	svc, store, notifier, _ := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 2)

	outcome, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerClientPoll, Reference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)

	units, err := store.UnitsByBulkOrder(context.Background(), "BULK1")
	require.NoError(t, err)
	for _, u := range units {
		assert.Equal(t, models.PaymentFailed, u.PaymentStatus)
	}
	assert.Equal(t, 0, notifier.sentCount())
}

func TestReconcilePendingCharge(t *testing.T) {
	gateway := &fakeGateway{charge: &bank.Charge{Reference: "ref-1", Status: bank.ChargePending}}
	svc, store, _, _ := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 1)

	outcome, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerClientPoll, Reference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome.Status)

	units, err := store.UnitsByBulkOrder(context.Background(), "BULK1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, units[0].PaymentStatus)
}

func TestReconcileGatewayDown(t *testing.T) {
	gateway := &fakeGateway{verifyErr: errors.New("connection refused")}
	svc, store, _, _ := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 1)

	_, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerWebhook, Reference: "ref-1"})

	var upstream *status.UpstreamError
	require.ErrorAs(t, err, &upstream)

	// nothing moved; the signal can be replayed later
	units, err := store.UnitsByBulkOrder(context.Background(), "BULK1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, units[0].PaymentStatus)
}

func TestReconcileUnknownSignal(t *testing.T) {
	gateway := &fakeGateway{charge: &bank.Charge{Reference: "ref-x", Status: bank.ChargeSuccess}}
	svc, _, _, _ := reconcileFixture(t, gateway)

	_, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerWebhook, Reference: "ref-x"})
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestReconcileRetryRepairsCounters(t *testing.T) {
	gateway := &fakeGateway{charge: successCharge("ref-1")}
	svc, store, notifier, _ := reconcileFixture(t, gateway)
	seedPendingGroup(store, "BULK1", "ref-1", 3)

	// the units go paid but the counter recomputation dies with the store
	store.recomputeErr = errors.New("database is locked")

	_, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerWebhook, Reference: "ref-1"})
	require.Error(t, err, "a half-applied confirmation must surface so the gateway redelivers")
	waitForNotify(t, notifier)

	units, err := store.UnitsByBulkOrder(context.Background(), "BULK1")
	require.NoError(t, err)
	for _, u := range units {
		assert.Equal(t, models.PaymentPaid, u.PaymentStatus)
	}
	tier, err := store.FindType(context.Background(), "Regular")
	require.NoError(t, err)
	assert.Equal(t, 0, tier.Sold, "the counter is stale until the retry lands")

	// the store recovers and the webhook is redelivered
	store.mu.Lock()
	store.recomputeErr = nil
	store.mu.Unlock()

	outcome, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerWebhook, Reference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPaid, outcome.Status)

	tier, err = store.FindType(context.Background(), "Regular")
	require.NoError(t, err)
	assert.Equal(t, 3, tier.Sold, "the retry repairs the counter")
}

func TestReconcileAlreadyPaidSkipsGateway(t *testing.T) {
	gateway := &fakeGateway{}
	svc, store, notifier, _ := reconcileFixture(t, gateway)

	now := time.Now()
	store.addUnit(&models.TicketUnit{
		TicketNo:         "FTC26031111",
		ShortCode:        "AAAAAA",
		BulkOrderID:      "BULK1",
		Email:            "ada@example.com",
		TicketType:       "Regular",
		PaymentStatus:    models.PaymentPaid,
		PaymentReference: "ref-1",
		PaidAt:           &now,
	})

	outcome, err := svc.Reconcile(context.Background(), &Signal{Trigger: TriggerClientPoll, Reference: "ref-1"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyPaid, outcome.Status)
	assert.Equal(t, 0, gateway.verifyCount())
	assert.Equal(t, 0, notifier.sentCount())
}
