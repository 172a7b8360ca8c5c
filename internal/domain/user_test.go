package domain

import "testing"

func TestAppendPurchaseKeepsOrderedSet(t *testing.T) {
	profile := UserProfile{ID: "u1"}

	if !profile.AppendPurchase("o1") {
		t.Fatalf("first append must report change")
	}
	if !profile.AppendPurchase("o2") {
		t.Fatalf("second append must report change")
	}
	if profile.AppendPurchase("o1") {
		t.Fatalf("duplicate append must be ignored")
	}

	if len(profile.PurchaseHistory) != 2 || profile.PurchaseHistory[0] != "o1" || profile.PurchaseHistory[1] != "o2" {
		t.Fatalf("unexpected history %v", profile.PurchaseHistory)
	}
}
