package domain

import "testing"

func TestPermissivePolicyAllowsAnyTransition(t *testing.T) {
	policy := PermissivePolicy{}
	for _, from := range OrderStatuses {
		for _, to := range OrderStatuses {
			if !policy.Allow(from, to) {
				t.Fatalf("permissive policy rejected %s -> %s", from, to)
			}
		}
	}
	if policy.Allow(OrderStatusPending, OrderStatus("refunded")) {
		t.Fatalf("permissive policy must still reject unknown statuses")
	}
}

func TestForwardOnlyPolicy(t *testing.T) {
	policy := ForwardOnlyPolicy{}
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusPending, false},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusCancelled, OrderStatusPending, false},
	}

	for _, tc := range tests {
		if got := policy.Allow(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPolicyByName(t *testing.T) {
	for name, want := range map[string]string{"": PolicyPermissive, "permissive": PolicyPermissive, "Forward": PolicyForward} {
		policy, err := PolicyByName(name)
		if err != nil {
			t.Fatalf("policy %q: %v", name, err)
		}
		if policy.Name() != want {
			t.Fatalf("policy %q: got %s, want %s", name, policy.Name(), want)
		}
	}
	if _, err := PolicyByName("strict"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
