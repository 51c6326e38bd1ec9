package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/api/responses"
	"github.com/angelmondragon/donorledger-backend/api/validators"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/pagination"
	"github.com/angelmondragon/donorledger-backend/pkg/types"
)

// PaymentService is the slice of the ledger the payment routes use.
type PaymentService interface {
	CreateDirectPayment(ctx context.Context, in ledger.CreateDirectPaymentInput) (*models.Payment, error)
	CreateSplitPayment(ctx context.Context, in ledger.CreateSplitPaymentInput) (*models.Payment, []models.PaymentAllocation, error)
	GetPayment(ctx context.Context, actor ledger.Actor, id uuid.UUID) (*ledger.PaymentDetail, error)
	ListPayments(ctx context.Context, actor ledger.Actor, query ledger.PaymentQuery, params pagination.Params) (ledger.PaymentPage, error)
	UpdatePayment(ctx context.Context, in ledger.UpdatePaymentInput) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, actor ledger.Actor, id uuid.UUID, status enums.PaymentStatus) (*models.Payment, error)
	DeletePayment(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.DeletePaymentResult, error)
}

type directPaymentRequest struct {
	PledgeID              uuid.UUID       `json:"pledgeId" validate:"required"`
	Amount                decimal.Decimal `json:"amount" validate:"required"`
	Currency              string          `json:"currency" validate:"required"`
	PaymentDate           types.Date      `json:"paymentDate"`
	ReceivedDate          *types.Date     `json:"receivedDate,omitempty"`
	Status                string          `json:"status" validate:"required"`
	PayerContactID        *uuid.UUID      `json:"payerContactId,omitempty"`
	InstallmentScheduleID *uuid.UUID      `json:"installmentScheduleId,omitempty"`
	ExternalReferenceID   *string         `json:"externalReferenceId,omitempty"`
}

type allocationRequest struct {
	PledgeID uuid.UUID       `json:"pledgeId" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	Currency string          `json:"currency,omitempty"`
}

type splitPaymentRequest struct {
	Amount              decimal.Decimal     `json:"amount" validate:"required"`
	Currency            string              `json:"currency" validate:"required"`
	PaymentDate         types.Date          `json:"paymentDate"`
	ReceivedDate        *types.Date         `json:"receivedDate,omitempty"`
	Status              string              `json:"status" validate:"required"`
	PayerContactID      *uuid.UUID          `json:"payerContactId,omitempty"`
	ExternalReferenceID *string             `json:"externalReferenceId,omitempty"`
	Allocations         []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

type updatePaymentRequest struct {
	PledgeID     *uuid.UUID         `json:"pledgeId,omitempty"`
	Amount       *decimal.Decimal   `json:"amount,omitempty"`
	Currency     *string            `json:"currency,omitempty"`
	PaymentDate  *types.Date        `json:"paymentDate,omitempty"`
	Status       *string            `json:"status,omitempty"`
	ReceivedDate types.NullableDate `json:"receivedDate"`
	PayerContact types.OptionalID   `json:"payerContactId"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

const maxExternalReferenceLength = 128

func sanitizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := validators.SanitizeString(*ref, maxExternalReferenceLength)
	if v == "" {
		return nil
	}
	return &v
}

// CreateDirectPayment records a payment credited to one pledge.
func CreateDirectPayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req directPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := parseCurrency(req.Currency, "currency")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := parseStatus(req.Status, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.CreateDirectPayment(r.Context(), ledger.CreateDirectPaymentInput{
			Actor:                 actor,
			PledgeID:              req.PledgeID,
			Amount:                req.Amount,
			Currency:              currency,
			PaymentDate:           req.PaymentDate.Time,
			ReceivedDate:          optionalDay(req.ReceivedDate),
			Status:                status,
			PayerContactID:        req.PayerContactID,
			InstallmentScheduleID: req.InstallmentScheduleID,
			ExternalReferenceID:   sanitizeReference(req.ExternalReferenceID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toPaymentDTO(payment, nil))
	}
}

// CreateSplitPayment records one payment allocated across several pledges.
func CreateSplitPayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req splitPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := parseCurrency(req.Currency, "currency")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := parseStatus(req.Status, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		allocations := make([]ledger.AllocationInput, 0, len(req.Allocations))
		for _, a := range req.Allocations {
			in := ledger.AllocationInput{PledgeID: a.PledgeID, Amount: a.Amount}
			if a.Currency != "" {
				if in.Currency, err = parseCurrency(a.Currency, "allocations.currency"); err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
			}
			allocations = append(allocations, in)
		}

		payment, rows, err := svc.CreateSplitPayment(r.Context(), ledger.CreateSplitPaymentInput{
			Actor:               actor,
			Amount:              req.Amount,
			Currency:            currency,
			PaymentDate:         req.PaymentDate.Time,
			ReceivedDate:        optionalDay(req.ReceivedDate),
			Status:              status,
			PayerContactID:      req.PayerContactID,
			ExternalReferenceID: sanitizeReference(req.ExternalReferenceID),
			Allocations:         allocations,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toPaymentDTO(payment, rows))
	}
}

// GetPayment returns a payment with its allocations.
func GetPayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.GetPayment(r.Context(), actor, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentDTO(&detail.Payment, detail.Allocations))
	}
}

// ListPayments pages through payments using typed filters from the query
// string: from, to, currency, status, pledgeId and locationId.
func ListPayments(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query, err := paymentQueryFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListPayments(r.Context(), actor, query, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentListDTO(page))
	}
}

func paymentQueryFromRequest(r *http.Request) (ledger.PaymentQuery, error) {
	var filters []ledger.Filter

	from, err := validators.ParseQueryDate(r, "from")
	if err != nil {
		return ledger.PaymentQuery{}, err
	}
	to, err := validators.ParseQueryDate(r, "to")
	if err != nil {
		return ledger.PaymentQuery{}, err
	}
	if from != nil || to != nil {
		filters = append(filters, ledger.PaymentDateBetween(optionalDay(from), optionalDay(to)))
	}

	if raw := validators.ParseQueryList(r, "currency"); len(raw) > 0 {
		currencies := make([]enums.Currency, 0, len(raw))
		for _, v := range raw {
			c, err := parseCurrency(v, "currency")
			if err != nil {
				return ledger.PaymentQuery{}, err
			}
			currencies = append(currencies, c)
		}
		filters = append(filters, ledger.CurrencyIn(currencies...))
	}

	if raw := validators.ParseQueryList(r, "status"); len(raw) > 0 {
		statuses := make([]enums.PaymentStatus, 0, len(raw))
		for _, v := range raw {
			s, err := parseStatus(v, "status")
			if err != nil {
				return ledger.PaymentQuery{}, err
			}
			statuses = append(statuses, s)
		}
		filters = append(filters, ledger.StatusIn(statuses...))
	}

	pledgeID, err := validators.ParseQueryUUID(r, "pledgeId")
	if err != nil {
		return ledger.PaymentQuery{}, err
	}
	if pledgeID != nil {
		filters = append(filters, ledger.CreditingPledge(*pledgeID))
	}

	locationID, err := validators.ParseQueryUUID(r, "locationId")
	if err != nil {
		return ledger.PaymentQuery{}, err
	}
	if locationID != nil {
		filters = append(filters, ledger.AtLocation(*locationID))
	}

	query, err := ledger.NewPaymentQuery(filters...)
	if err != nil {
		return ledger.PaymentQuery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	return query, nil
}

// UpdatePayment patches a payment. A null receivedDate clears it.
func UpdatePayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		in := ledger.UpdatePaymentInput{
			Actor:       actor,
			PaymentID:   paymentID,
			PledgeID:    req.PledgeID,
			Amount:      req.Amount,
			PaymentDate: optionalDay(req.PaymentDate),
		}
		if req.Currency != nil {
			c, err := parseCurrency(*req.Currency, "currency")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			in.Currency = &c
		}
		if req.Status != nil {
			s, err := parseStatus(*req.Status, "status")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			in.Status = &s
		}
		if req.ReceivedDate.Valid {
			if req.ReceivedDate.Value == nil {
				in.ClearReceivedDate = true
			} else {
				in.ReceivedDate = optionalDay(req.ReceivedDate.Value)
			}
		}
		if req.PayerContact.Present {
			in.PayerContactID = req.PayerContact.ID
			in.ClearPayerContact = req.PayerContact.Clears()
		}

		payment, err := svc.UpdatePayment(r.Context(), in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentDTO(payment, nil))
	}
}

// UpdatePaymentStatus moves a payment to a new status and recalculates the
// pledges it credits.
func UpdatePaymentStatus(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := parseStatus(req.Status, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.UpdatePaymentStatus(r.Context(), actor, paymentID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentDTO(payment, nil))
	}
}

// DeletePayment removes a payment and its allocations.
func DeletePayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.DeletePayment(r.Context(), actor, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
