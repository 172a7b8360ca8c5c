package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewOutboxMessageCarriesConfirmation(t *testing.T) {
	order := validOrder()
	order.UserEmail = "buyer@example.com"
	order.UserName = DefaultCustomerName
	order.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	msg, err := NewOutboxMessage(order.ID, EventOrderConfirmationRequested, NewOrderConfirmation(order))
	require.NoError(t, err)
	require.Equal(t, AggregateOrder, msg.AggregateType)
	require.Equal(t, order.ID, msg.AggregateID)
	require.Equal(t, EventOrderConfirmationRequested, msg.EventType)

	var decoded OrderConfirmation
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, "buyer@example.com", decoded.Email)
	require.Len(t, decoded.Items, 1)
	require.True(t, decoded.Total.Equal(decimal.RequireFromString("53.98")))
}
