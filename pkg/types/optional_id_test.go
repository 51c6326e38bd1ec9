package types

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentPatch struct {
	PayerContact OptionalID `json:"payerContactId"`
	Notes        *string    `json:"notes"`
}

func TestOptionalIDPayerContact(t *testing.T) {
	payer := uuid.MustParse("5f0c7d3e-2b1a-4c8e-9f60-1a2b3c4d5e6f")

	tests := []struct {
		name    string
		body    string
		present bool
		clears  bool
		want    *uuid.UUID
	}{
		{name: "omitted keeps payer", body: `{"notes":"pledge drive"}`},
		{name: "null clears payer", body: `{"payerContactId": null}`, present: true, clears: true},
		{name: "uuid sets third-party payer", body: `{"payerContactId":"` + payer.String() + `"}`, present: true, want: &payer},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got paymentPatch
			require.NoError(t, json.Unmarshal([]byte(tc.body), &got))
			assert.Equal(t, tc.present, got.PayerContact.Present)
			assert.Equal(t, tc.clears, got.PayerContact.Clears())
			assert.Equal(t, tc.want, got.PayerContact.ID)
		})
	}
}

func TestOptionalIDRejectsBadPayer(t *testing.T) {
	for _, body := range []string{
		`{"payerContactId":"not-a-contact"}`,
		`{"payerContactId":42}`,
		`{"payerContactId":"00000000-0000-0000-0000-000000000000"}`,
	} {
		var got paymentPatch
		assert.Error(t, json.Unmarshal([]byte(body), &got), body)
		assert.False(t, got.PayerContact.Present, body)
	}
}
