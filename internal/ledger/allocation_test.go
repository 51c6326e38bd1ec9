package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
)

func identity(amount decimal.Decimal, _ enums.Currency) (decimal.Decimal, error) {
	return amount, nil
}

func TestValidateAllocations(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	cases := []struct {
		name    string
		amount  string
		drafts  []AllocationDraft
		wantErr bool
	}{
		{name: "exact", amount: "300", drafts: []AllocationDraft{{PledgeID: a, Amount: dec("200")}, {PledgeID: b, Amount: dec("100")}}},
		{name: "one cent under", amount: "100", drafts: []AllocationDraft{{PledgeID: a, Amount: dec("66.66")}, {PledgeID: b, Amount: dec("33.33")}}},
		{name: "one cent over", amount: "100", drafts: []AllocationDraft{{PledgeID: a, Amount: dec("66.67")}, {PledgeID: b, Amount: dec("33.34")}}},
		{name: "two cents off", amount: "100", drafts: []AllocationDraft{{PledgeID: a, Amount: dec("66.66")}, {PledgeID: b, Amount: dec("33.32")}}, wantErr: true},
		{name: "empty", amount: "100", wantErr: true},
		{name: "nil pledge", amount: "100", drafts: []AllocationDraft{{Amount: dec("100")}}, wantErr: true},
		{name: "duplicate pledge", amount: "100", drafts: []AllocationDraft{{PledgeID: a, Amount: dec("50")}, {PledgeID: a, Amount: dec("50")}}, wantErr: true},
		{name: "zero slice", amount: "100", drafts: []AllocationDraft{{PledgeID: a, Amount: dec("100")}, {PledgeID: b, Amount: decimal.Zero}}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			converted, err := ValidateAllocations(dec(tc.amount), enums.CurrencyUSD, tc.drafts, identity)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrAllocationMismatch))
				typed := pkgerrors.As(err)
				require.NotNil(t, typed)
				assert.Equal(t, pkgerrors.CodeAllocationMismatch, typed.Code())
				return
			}
			require.NoError(t, err)
			require.Len(t, converted, len(tc.drafts))
		})
	}
}

func TestValidateAllocationsConvertsForeignSlices(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	var seen []enums.Currency
	toILS := func(amount decimal.Decimal, from enums.Currency) (decimal.Decimal, error) {
		seen = append(seen, from)
		return amount.Mul(dec("3.6")), nil
	}

	converted, err := ValidateAllocations(dec("360"), enums.CurrencyILS, []AllocationDraft{
		{PledgeID: a, Amount: dec("50"), Currency: enums.CurrencyUSD},
		{PledgeID: b, Amount: dec("180"), Currency: enums.CurrencyILS},
	}, toILS)
	require.NoError(t, err)
	assert.Equal(t, []enums.Currency{enums.CurrencyUSD}, seen)
	assert.Equal(t, "180.00", converted[0].StringFixed(2))
	assert.Equal(t, "180.00", converted[1].StringFixed(2))
}

func TestValidateAllocationsPropagatesConversionErrors(t *testing.T) {
	boom := errors.New("no rate")
	_, err := ValidateAllocations(dec("100"), enums.CurrencyUSD, []AllocationDraft{
		{PledgeID: uuid.New(), Amount: dec("100"), Currency: enums.CurrencyGBP},
	}, func(decimal.Decimal, enums.Currency) (decimal.Decimal, error) {
		return decimal.Zero, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestValidateAllocationsAllowsOverAllocationAgainstBalance(t *testing.T) {
	converted, err := ValidateAllocations(dec("5000"), enums.CurrencyUSD, []AllocationDraft{
		{PledgeID: uuid.New(), Amount: dec("5000")},
	}, identity)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", converted[0].StringFixed(2))
}
