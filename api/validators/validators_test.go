package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
)

type amountBody struct {
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

func TestDecodeJSONBodyValidatesDecimalAmounts(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"0","currency":"USD"}`))
	var body amountBody
	err := DecodeJSONBody(req, &body)
	if err == nil {
		t.Fatalf("expected zero amount to fail required")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["amount"] != "is required" {
		t.Fatalf("unexpected details %v", typed.Details())
	}
}

func TestDecodeJSONBodyAcceptsNumbersAndStrings(t *testing.T) {
	for _, payload := range []string{`{"amount":"12.50","currency":"ILS"}`, `{"amount":12.5,"currency":"ILS"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var body amountBody
		if err := DecodeJSONBody(req, &body); err != nil {
			t.Fatalf("%s: unexpected error %v", payload, err)
		}
		if body.Amount.StringFixed(2) != "12.50" {
			t.Fatalf("%s: unexpected amount %s", payload, body.Amount)
		}
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","currency":"USD","surplus":"5"}`))
	var body amountBody
	if err := DecodeJSONBody(req, &body); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","currency":"USD"}{"amount":"2"}`))
	var body amountBody
	if err := DecodeJSONBody(req, &body); err == nil {
		t.Fatalf("expected a second object to be rejected")
	}
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	payload := `{"amount":"1","currency":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	var body amountBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid request body") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDecodeJSONBodyReportsParamMessages(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"5","currency":"US"}`))
	var body amountBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details, _ := typed.Details().(map[string]string)
	if details["currency"] != "must have exactly 3 characters" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&from=2024-01-01&pledgeId=bad&status=completed,pending&status=refunded", nil)

	limit, err := ParseQueryInt(req, "limit", 50, 1, 100)
	if err != nil || limit != 20 {
		t.Fatalf("unexpected limit %d err %v", limit, err)
	}
	from, err := ParseQueryDate(req, "from")
	if err != nil || from == nil || from.Format("2006-01-02") != "2024-01-01" {
		t.Fatalf("unexpected from %v err %v", from, err)
	}
	missing, err := ParseQueryDate(req, "to")
	if err != nil || missing != nil {
		t.Fatalf("absent date should be nil")
	}
	if _, err := ParseQueryUUID(req, "pledgeId"); err == nil {
		t.Fatalf("expected bad uuid to fail")
	}
	statuses := ParseQueryList(req, "status")
	if len(statuses) != 3 || statuses[2] != "refunded" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  ch_123  ", 4, "ch_1"},
		{"ch_\x009\t1", 0, "ch_91"},
		{"קמפיין חורף", 6, "קמפיין"},
		{"spring gala", 7, "spring"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
