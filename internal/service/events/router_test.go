package events

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/history"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type recordingNotifier struct {
	sent []domain.OrderConfirmation
	err  error
}

func (r *recordingNotifier) SendOrderConfirmation(_ context.Context, c domain.OrderConfirmation) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, c)
	return nil
}

func TestDispatch_OrderConfirmation(t *testing.T) {
	notifier := &recordingNotifier{}
	router := NewRouter(notifier, nil, nil)

	msg, err := domain.NewOutboxMessage("order-1", domain.EventOrderConfirmationRequested, domain.OrderConfirmation{
		OrderID: "order-1",
		Email:   "ann@example.com",
		Total:   decimal.RequireFromString("70.48"),
	})
	require.NoError(t, err)

	require.NoError(t, router.Dispatch(context.Background(), msg))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "ann@example.com", notifier.sent[0].Email)
	assert.True(t, notifier.sent[0].Total.Equal(decimal.RequireFromString("70.48")))
}

func TestDispatch_NotifierFailureIsReturned(t *testing.T) {
	router := NewRouter(&recordingNotifier{err: errors.New("smtp down")}, nil, nil)
	msg, err := domain.NewOutboxMessage("order-1", domain.EventOrderConfirmationRequested, domain.OrderConfirmation{OrderID: "order-1"})
	require.NoError(t, err)

	require.Error(t, router.Dispatch(context.Background(), msg))
}

func TestDispatch_PurchaseHistory(t *testing.T) {
	ctx := context.Background()
	users := memory.NewStore().Repositories().Users
	router := NewRouter(nil, history.NewAppender(users), nil)

	msg, err := domain.NewOutboxMessage("order-7", domain.EventPurchaseHistoryAppend, domain.PurchaseHistoryAppend{UserID: "user-1", OrderID: "order-7"})
	require.NoError(t, err)

	require.NoError(t, router.Dispatch(ctx, msg))
	require.NoError(t, router.Dispatch(ctx, msg))

	profile, err := users.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-7"}, profile.PurchaseHistory)
}

func TestDispatch_BrokenPayload(t *testing.T) {
	router := NewRouter(&recordingNotifier{}, history.NewAppender(memory.NewStore().Repositories().Users), nil)

	err := router.Dispatch(context.Background(), domain.OutboxMessage{EventType: domain.EventPurchaseHistoryAppend, Payload: []byte("{")})
	require.Error(t, err)
}

func TestDispatch_UnknownAndStatusEventsAreIgnored(t *testing.T) {
	router := NewRouter(nil, nil, nil)

	require.NoError(t, router.Dispatch(context.Background(), domain.OutboxMessage{EventType: "inventory.restocked"}))
	require.NoError(t, router.Dispatch(context.Background(), domain.OutboxMessage{EventType: domain.EventOrderStatusChanged, Payload: []byte(`{}`)}))
}

func TestRouterAsOutboxPublisher(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	notifier := &recordingNotifier{}
	router := NewRouter(notifier, history.NewAppender(repos.Users), nil)

	order := domain.Order{ID: "order-3", UserID: "user-3", UserEmail: "c@example.com"}
	confirmation, err := domain.NewOutboxMessage(order.ID, domain.EventOrderConfirmationRequested, domain.NewOrderConfirmation(order))
	require.NoError(t, err)
	appendMsg, err := domain.NewOutboxMessage(order.ID, domain.EventPurchaseHistoryAppend, domain.PurchaseHistoryAppend{UserID: order.UserID, OrderID: order.ID})
	require.NoError(t, err)

	_, err = repos.Outbox.Enqueue(ctx, confirmation)
	require.NoError(t, err)
	_, err = repos.Outbox.Enqueue(ctx, appendMsg)
	require.NoError(t, err)

	worker := outbox.NewWorker(repos.Outbox, router, outbox.WithRetryBaseDelay(0))
	assert.Equal(t, 2, worker.ProcessOnce(ctx))

	require.Len(t, notifier.sent, 1)
	profile, err := repos.Users.Get(ctx, "user-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-3"}, profile.PurchaseHistory)
}
