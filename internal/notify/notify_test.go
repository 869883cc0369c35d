package notify

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	delivered []int64
	fail      bool
}

func (r *recordingEnqueuer) EnqueueNotification(ctx context.Context, userID int64, n Notification) error {
	if r.fail {
		return errors.New("queue down")
	}
	r.delivered = append(r.delivered, userID)
	return nil
}

func newTestRegistry(t *testing.T) *TopicRegistry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTopicRegistry(client)
}

func TestTopicRegistrySubscribe(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Subscribe(ctx, RoleHeadOfOperations, 11))
	require.NoError(t, registry.Subscribe(ctx, RoleHeadOfOperations, 12))
	require.NoError(t, registry.Subscribe(ctx, RoleManagingDirector, 20))

	subs, err := registry.Subscribers(ctx, RoleHeadOfOperations)
	require.NoError(t, err)
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	require.Equal(t, []int64{11, 12}, subs)

	require.NoError(t, registry.Unsubscribe(ctx, RoleHeadOfOperations, 11))
	subs, err = registry.Subscribers(ctx, RoleHeadOfOperations)
	require.NoError(t, err)
	require.Equal(t, []int64{12}, subs)
}

func TestDispatcherFansOutToRoleSubscribers(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, registry.Subscribe(ctx, RoleManagingDirector, 20))
	require.NoError(t, registry.Subscribe(ctx, RoleManagingDirector, 21))

	enq := &recordingEnqueuer{}
	d := NewDispatcher(registry, enq, nil)
	d.Notify(ctx, RoleRecipient(RoleManagingDirector), Notification{Type: "requisition_forwarded", Message: "Requisition awaiting approval"})

	sort.Slice(enq.delivered, func(i, j int) bool { return enq.delivered[i] < enq.delivered[j] })
	require.Equal(t, []int64{20, 21}, enq.delivered)
}

func TestDispatcherSingleUser(t *testing.T) {
	registry := newTestRegistry(t)
	enq := &recordingEnqueuer{}
	d := NewDispatcher(registry, enq, nil)
	d.Notify(context.Background(), UserRecipient(42), Notification{Type: "requisition_approved"})
	require.Equal(t, []int64{42}, enq.delivered)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, registry.Subscribe(ctx, RoleFinance, 30))

	enq := &recordingEnqueuer{fail: true}
	d := NewDispatcher(registry, enq, nil)
	// Must not panic or surface errors.
	d.Notify(ctx, RoleRecipient(RoleFinance), Notification{Type: "invoice_created"})
	d.Notify(ctx, UserRecipient(30), Notification{Type: "invoice_created"})
	require.Empty(t, enq.delivered)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "1,234,567.50", FormatAmount(1234567.5))
	require.Equal(t, "60", FormatQuantity(60))
	require.Equal(t, "60.50", FormatQuantity(60.5))
}
