package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/types"
)

// PledgeDTO is the API shape of a pledge and its derived totals.
type PledgeDTO struct {
	ID                uuid.UUID       `json:"id"`
	ContactID         uuid.UUID       `json:"contactId"`
	LocationID        uuid.UUID       `json:"locationId"`
	OriginalAmount    decimal.Decimal `json:"originalAmount"`
	Currency          enums.Currency  `json:"currency"`
	OriginalAmountUSD decimal.Decimal `json:"originalAmountUsd"`
	ExchangeRate      decimal.Decimal `json:"exchangeRate"`
	TotalPaid         decimal.Decimal `json:"totalPaid"`
	TotalPaidUSD      decimal.Decimal `json:"totalPaidUsd"`
	Balance           decimal.Decimal `json:"balance"`
	BalanceUSD        decimal.Decimal `json:"balanceUsd"`
	IsActive          bool            `json:"isActive"`
	CampaignCode      *string         `json:"campaignCode,omitempty"`
	CategoryID        *uuid.UUID      `json:"categoryId,omitempty"`
	PledgeDate        types.Date      `json:"pledgeDate"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func toPledgeDTO(p *models.Pledge) PledgeDTO {
	return PledgeDTO{
		ID:                p.ID,
		ContactID:         p.ContactID,
		LocationID:        p.LocationID,
		OriginalAmount:    p.OriginalAmount,
		Currency:          p.Currency,
		OriginalAmountUSD: p.OriginalAmountUSD,
		ExchangeRate:      p.ExchangeRate,
		TotalPaid:         p.TotalPaid,
		TotalPaidUSD:      p.TotalPaidUSD,
		Balance:           p.Balance,
		BalanceUSD:        p.BalanceUSD,
		IsActive:          p.IsActive,
		CampaignCode:      p.CampaignCode,
		CategoryID:        p.CategoryID,
		PledgeDate:        types.NewDate(p.PledgeDate),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// PaymentDTO is the API shape of a payment. Allocations are present only
// for split payments.
type PaymentDTO struct {
	ID                     uuid.UUID           `json:"id"`
	PledgeID               *uuid.UUID          `json:"pledgeId,omitempty"`
	LocationID             uuid.UUID           `json:"locationId"`
	Amount                 decimal.Decimal     `json:"amount"`
	Currency               enums.Currency      `json:"currency"`
	AmountUSD              decimal.Decimal     `json:"amountUsd"`
	ExchangeRate           decimal.Decimal     `json:"exchangeRate"`
	AmountInPledgeCurrency *decimal.Decimal    `json:"amountInPledgeCurrency,omitempty"`
	PaymentDate            types.Date          `json:"paymentDate"`
	ReceivedDate           *types.Date         `json:"receivedDate,omitempty"`
	Status                 enums.PaymentStatus `json:"status"`
	IsThirdPartyPayment    bool                `json:"isThirdPartyPayment"`
	PayerContactID         *uuid.UUID          `json:"payerContactId,omitempty"`
	InstallmentScheduleID  *uuid.UUID          `json:"installmentScheduleId,omitempty"`
	ExternalReferenceID    *string             `json:"externalReferenceId,omitempty"`
	Allocations            []AllocationDTO     `json:"allocations,omitempty"`
	CreatedAt              time.Time           `json:"createdAt"`
	UpdatedAt              time.Time           `json:"updatedAt"`
}

// AllocationDTO is one slice of a split payment.
type AllocationDTO struct {
	ID                     uuid.UUID       `json:"id"`
	PledgeID               uuid.UUID       `json:"pledgeId"`
	AllocatedAmount        decimal.Decimal `json:"allocatedAmount"`
	Currency               enums.Currency  `json:"currency"`
	AllocatedAmountUSD     decimal.Decimal `json:"allocatedAmountUsd"`
	AmountInPledgeCurrency decimal.Decimal `json:"amountInPledgeCurrency"`
}

func toPaymentDTO(p *models.Payment, allocations []models.PaymentAllocation) PaymentDTO {
	dto := PaymentDTO{
		ID:                     p.ID,
		PledgeID:               p.PledgeID,
		LocationID:             p.LocationID,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		AmountUSD:              p.AmountUSD,
		ExchangeRate:           p.ExchangeRate,
		AmountInPledgeCurrency: p.AmountInPledgeCurrency,
		PaymentDate:            types.NewDate(p.PaymentDate),
		Status:                 p.Status,
		IsThirdPartyPayment:    p.IsThirdPartyPayment,
		PayerContactID:         p.PayerContactID,
		InstallmentScheduleID:  p.InstallmentScheduleID,
		ExternalReferenceID:    p.ExternalReferenceID,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
	if p.ReceivedDate != nil {
		d := types.NewDate(*p.ReceivedDate)
		dto.ReceivedDate = &d
	}
	for _, a := range allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			ID:                     a.ID,
			PledgeID:               a.PledgeID,
			AllocatedAmount:        a.AllocatedAmount,
			Currency:               a.Currency,
			AllocatedAmountUSD:     a.AllocatedAmountUSD,
			AmountInPledgeCurrency: a.AmountInPledgeCurrency,
		})
	}
	return dto
}

// PaymentListDTO is one page of payments.
type PaymentListDTO struct {
	Items      []PaymentDTO `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

func toPaymentListDTO(page ledger.PaymentPage) PaymentListDTO {
	out := PaymentListDTO{Items: make([]PaymentDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, toPaymentDTO(&page.Items[i], nil))
	}
	return out
}

// ExchangeRateDTO is a stored USD rate.
type ExchangeRateDTO struct {
	ID             uuid.UUID       `json:"id"`
	BaseCurrency   enums.Currency  `json:"baseCurrency"`
	TargetCurrency enums.Currency  `json:"targetCurrency"`
	Date           types.Date      `json:"date"`
	Rate           decimal.Decimal `json:"rate"`
}

func toExchangeRateDTO(r *models.ExchangeRate) ExchangeRateDTO {
	return ExchangeRateDTO{
		ID:             r.ID,
		BaseCurrency:   r.BaseCurrency,
		TargetCurrency: r.TargetCurrency,
		Date:           types.NewDate(r.Date),
		Rate:           r.Rate,
	}
}
