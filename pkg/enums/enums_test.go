package enums

import "testing"

func TestPaymentStatusClassification(t *testing.T) {
	for _, status := range validPaymentStatuses {
		counts := status.CountsTowardTotal()
		if counts != (status == PaymentStatusCompleted) {
			t.Fatalf("status %s counts=%v", status, counts)
		}
	}
	for _, status := range []PaymentStatus{PaymentStatusPending, PaymentStatusExpected, PaymentStatusProcessing} {
		if !status.IsScheduled() {
			t.Fatalf("expected %s to be scheduled", status)
		}
	}
	for _, status := range []PaymentStatus{PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded} {
		if status.IsScheduled() {
			t.Fatalf("expected %s to not be scheduled", status)
		}
	}
}

func TestParsePaymentStatus(t *testing.T) {
	got, err := ParsePaymentStatus("completed")
	if err != nil || got != PaymentStatusCompleted {
		t.Fatalf("unexpected parse result %q %v", got, err)
	}
	if _, err := ParsePaymentStatus("settled"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestParseCurrencyNormalizesCase(t *testing.T) {
	got, err := ParseCurrency(" ils ")
	if err != nil {
		t.Fatalf("parse currency: %v", err)
	}
	if got != CurrencyILS {
		t.Fatalf("expected ILS, got %s", got)
	}
	if _, err := ParseCurrency("BTC"); err == nil {
		t.Fatal("expected BTC to be rejected")
	}
	if !CurrencyUSD.IsUSD() || CurrencyEUR.IsUSD() {
		t.Fatal("IsUSD mismatch")
	}
}
