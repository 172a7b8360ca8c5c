package domain

import (
	"fmt"
	"strings"
)

// TransitionPolicy решает, допустим ли переход между статусами заказа.
type TransitionPolicy interface {
	Name() string
	Allow(from, to OrderStatus) bool
}

const (
	// PolicyPermissive разрешает любой переход (административная корректировка).
	PolicyPermissive = "permissive"
	// PolicyForward разрешает только движение вперёд по жизненному циклу.
	PolicyForward = "forward"
)

// PermissivePolicy разрешает любой переход между допустимыми статусами,
// включая откат delivered -> pending.
type PermissivePolicy struct{}

func (PermissivePolicy) Name() string { return PolicyPermissive }

func (PermissivePolicy) Allow(from, to OrderStatus) bool {
	return from.Valid() && to.Valid()
}

// ForwardOnlyPolicy: pending -> processing -> shipped -> delivered,
// cancelled только из pending и processing.
type ForwardOnlyPolicy struct{}

var forwardTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func (ForwardOnlyPolicy) Name() string { return PolicyForward }

func (ForwardOnlyPolicy) Allow(from, to OrderStatus) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PolicyByName возвращает политику по имени из конфигурации.
func PolicyByName(name string) (TransitionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyPermissive:
		return PermissivePolicy{}, nil
	case PolicyForward:
		return ForwardOnlyPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown status policy %q", name)
	}
}
