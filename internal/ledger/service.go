package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/internal/fx"
	dbpkg "github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/donorledger-backend/pkg/pagination"
)

type currencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency, asOf time.Time) (fx.Conversion, error)
}

// Service sequences ledger mutations: validate, convert, write, then
// recalculate every pledge the writes touched.
type Service struct {
	repo          Repository
	tx            txRunner
	transactional bool
	outbox        outboxPublisher
	converter     currencyConverter
	recalc        *Recalculator
	metrics       *metrics.LedgerMetrics
	logg          *logger.Logger
}

// ServiceParams wires a Service. Transactional must match the runner: when
// false each write commits on its own and failures after the first write are
// reported as partial.
type ServiceParams struct {
	Repo          Repository
	Tx            txRunner
	Transactional bool
	Outbox        outboxPublisher
	Converter     currencyConverter
	Recalculator  *Recalculator
	Metrics       *metrics.LedgerMetrics
	Logger        *logger.Logger
}

// PaymentPage is one page of a payment listing.
type PaymentPage struct {
	Items      []models.Payment
	NextCursor string
}

// PaymentDetail is a payment with its allocation rows.
type PaymentDetail struct {
	Payment     models.Payment
	Allocations []models.PaymentAllocation
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Converter == nil {
		return nil, fmt.Errorf("currency converter required")
	}
	if p.Recalculator == nil {
		return nil, fmt.Errorf("recalculator required")
	}
	return &Service{
		repo:          p.Repo,
		tx:            p.Tx,
		transactional: p.Transactional,
		outbox:        p.Outbox,
		converter:     p.Converter,
		recalc:        p.Recalculator,
		metrics:       p.Metrics,
		logg:          p.Logger,
	}, nil
}

// mutation tracks how far a multi-write operation got.
type mutation struct {
	op    string
	step  string
	wrote bool
	start time.Time
}

func (s *Service) begin(op string) *mutation {
	return &mutation{op: op, step: "validate", start: time.Now()}
}

func (m *mutation) at(step string) { m.step = step }

func (m *mutation) written() { m.wrote = true }

func (s *Service) finish(m *mutation) {
	s.metrics.ObserveMutation(m.op, time.Since(m.start))
}

// writeFailure maps an error from the write phase. Without a transaction,
// anything that failed after the first durable write is a partial failure.
func (s *Service) writeFailure(ctx context.Context, m *mutation, err error, recalculated, pending []uuid.UUID) error {
	if err == nil {
		return nil
	}
	if m.wrote && !s.transactional {
		return s.partial(ctx, m, err, recalculated, pending)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if dbpkg.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger row already exists")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s failed at %s", m.op, m.step))
}

func (s *Service) partial(ctx context.Context, m *mutation, err error, recalculated, pending []uuid.UUID) error {
	failure := &PartialMutationFailure{
		Operation:    m.op,
		Step:         m.step,
		Recalculated: recalculated,
		Pending:      pending,
		Err:          err,
	}
	s.metrics.IncPartialFailure(m.op, m.step)
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"operation":       m.op,
			"step":            m.step,
			"pending_pledges": idStrings(pending),
		})
		s.logg.Error(logCtx, "ledger mutation partially applied", err)
	}
	return failure.coded()
}

// recalcAfter recalculates ids once the writes are durable. Failures are
// retried, then reported with the ids that still need repair.
func (s *Service) recalcAfter(ctx context.Context, m *mutation, ids []uuid.UUID) ([]uuid.UUID, error) {
	var (
		done    []uuid.UUID
		pending []uuid.UUID
		errs    error
	)
	for _, id := range uniqueIDs(ids) {
		if _, err := s.recalc.recalculateWithRetry(ctx, id); err != nil {
			pending = append(pending, id)
			errs = multierr.Append(errs, fmt.Errorf("pledge %s: %w", id, err))
			continue
		}
		done = append(done, id)
	}
	if len(pending) > 0 {
		m.at("recalculate")
		return done, s.partial(ctx, m, errs, done, pending)
	}
	return done, nil
}

func (s *Service) info(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func (s *Service) loadPledge(ctx context.Context, actor Actor, id uuid.UUID, requireActive bool) (*models.Pledge, error) {
	pledge, err := s.repo.FindPledge(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pledgeNotFound(id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pledge")
	}
	if !actor.CanAccess(pledge.LocationID) {
		return nil, forbidden()
	}
	if requireActive && !pledge.IsActive {
		return nil, pledgeInactive(id)
	}
	return pledge, nil
}

func (s *Service) loadPayment(ctx context.Context, actor Actor, id uuid.UUID) (*models.Payment, []models.PaymentAllocation, error) {
	if id == uuid.Nil {
		return nil, nil, validation("payment id required")
	}
	payment, err := s.repo.FindPayment(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, paymentNotFound(id)
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if !actor.CanAccess(payment.LocationID) {
		return nil, nil, forbidden()
	}
	allocations, err := s.repo.ListAllocationsByPayment(ctx, id)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	return payment, allocations, nil
}

// GetPledge returns one pledge visible to actor.
func (s *Service) GetPledge(ctx context.Context, actor Actor, id uuid.UUID) (*models.Pledge, error) {
	return s.loadPledge(ctx, actor, id, false)
}

// GetPayment returns a payment and its allocations.
func (s *Service) GetPayment(ctx context.Context, actor Actor, id uuid.UUID) (*PaymentDetail, error) {
	payment, allocations, err := s.loadPayment(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return &PaymentDetail{Payment: *payment, Allocations: allocations}, nil
}

// CreatePledge opens a pledge with zero paid and the full amount as balance.
func (s *Service) CreatePledge(ctx context.Context, in CreatePledgeInput) (*models.Pledge, error) {
	if in.ContactID == uuid.Nil {
		return nil, validation("contact id required")
	}
	if !in.Amount.IsPositive() {
		return nil, validation("pledge amount must be positive")
	}
	if !in.Currency.IsValid() {
		return nil, validation(fmt.Sprintf("unsupported currency %q", in.Currency))
	}
	if in.PledgeDate.IsZero() {
		return nil, validation("pledge date required")
	}

	contact, err := s.repo.FindContact(ctx, in.ContactID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrContactNotFound, "contact not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contact")
	}
	if !in.Actor.CanAccess(contact.LocationID) {
		return nil, forbidden()
	}

	original := fx.RoundAmount(in.Amount)
	usd, err := s.converter.Convert(ctx, original, in.Currency, enums.CurrencyUSD, in.PledgeDate)
	if err != nil {
		return nil, err
	}
	usd = usd.Rounded()

	pledge := &models.Pledge{
		ContactID:         contact.ID,
		OriginalAmount:    original,
		Currency:          in.Currency,
		OriginalAmountUSD: usd.Amount,
		ExchangeRate:      usd.Rate,
		TotalPaid:         decimal.Zero,
		TotalPaidUSD:      decimal.Zero,
		Balance:           original,
		BalanceUSD:        usd.Amount,
		IsActive:          true,
		CampaignCode:      in.CampaignCode,
		CategoryID:        in.CategoryID,
		LocationID:        contact.LocationID,
		PledgeDate:        dayStart(in.PledgeDate),
	}

	m := s.begin("create_pledge")
	defer s.finish(m)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		m.at("insert_pledge")
		if err := s.repo.WithTx(tx).CreatePledge(ctx, pledge); err != nil {
			return err
		}
		m.written()
		m.at("emit_event")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPledgeCreated,
			AggregateType: enums.AggregatePledge,
			AggregateID:   pledge.ID,
			Actor:         in.Actor.ref(),
			Data: payloads.PledgeCreatedEvent{
				PledgeID:          pledge.ID,
				ContactID:         pledge.ContactID,
				OriginalAmount:    pledge.OriginalAmount,
				Currency:          pledge.Currency,
				OriginalAmountUSD: pledge.OriginalAmountUSD,
			},
		})
	})
	if err := s.writeFailure(ctx, m, err, nil, nil); err != nil {
		return nil, err
	}

	s.info(ctx, "pledge created", map[string]any{"pledge_id": pledge.ID.String(), "contact_id": contact.ID.String()})
	return pledge, nil
}

// CreateDirectPayment records a payment against a single active pledge.
func (s *Service) CreateDirectPayment(ctx context.Context, in CreateDirectPaymentInput) (*models.Payment, error) {
	if in.PledgeID == uuid.Nil {
		return nil, validation("pledge id required")
	}
	if err := validatePaymentFields(in.Amount, in.Currency, in.Status, in.PaymentDate); err != nil {
		return nil, err
	}
	pledge, err := s.loadPledge(ctx, in.Actor, in.PledgeID, true)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		PledgeID:              &pledge.ID,
		Amount:                fx.RoundAmount(in.Amount),
		Currency:              in.Currency,
		PaymentDate:           dayStart(in.PaymentDate),
		ReceivedDate:          dayPtr(in.ReceivedDate),
		Status:                in.Status,
		PayerContactID:        in.PayerContactID,
		IsThirdPartyPayment:   in.PayerContactID != nil && *in.PayerContactID != pledge.ContactID,
		InstallmentScheduleID: in.InstallmentScheduleID,
		ExternalReferenceID:   in.ExternalReferenceID,
		LocationID:            pledge.LocationID,
	}
	if err := s.stampDirect(ctx, payment, pledge.Currency); err != nil {
		return nil, err
	}

	m := s.begin("create_direct_payment")
	defer s.finish(m)
	affected := []uuid.UUID{pledge.ID}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		m.at("insert_payment")
		if err := s.repo.WithTx(tx).CreatePayment(ctx, payment); err != nil {
			return err
		}
		m.written()
		m.at("emit_event")
		return s.emitRecorded(ctx, tx, in.Actor, payment, nil)
	})
	if err := s.writeFailure(ctx, m, err, nil, affected); err != nil {
		return nil, err
	}
	if _, err := s.recalcAfter(ctx, m, affected); err != nil {
		return nil, err
	}

	s.info(ctx, "direct payment recorded", map[string]any{
		"payment_id": payment.ID.String(),
		"pledge_id":  pledge.ID.String(),
		"status":     payment.Status,
	})
	return payment, nil
}

// CreateSplitPayment records one payment divided across several pledges.
func (s *Service) CreateSplitPayment(ctx context.Context, in CreateSplitPaymentInput) (*models.Payment, []models.PaymentAllocation, error) {
	if err := validatePaymentFields(in.Amount, in.Currency, in.Status, in.PaymentDate); err != nil {
		return nil, nil, err
	}
	drafts := make([]AllocationDraft, 0, len(in.Allocations))
	for _, a := range in.Allocations {
		if a.Currency != "" && !a.Currency.IsValid() {
			return nil, nil, validation(fmt.Sprintf("unsupported allocation currency %q", a.Currency))
		}
		drafts = append(drafts, AllocationDraft(a))
	}

	amount := fx.RoundAmount(in.Amount)
	date := dayStart(in.PaymentDate)
	converted, err := ValidateAllocations(amount, in.Currency, drafts, func(value decimal.Decimal, from enums.Currency) (decimal.Decimal, error) {
		conv, err := s.converter.Convert(ctx, value, from, in.Currency, date)
		return conv.Amount, err
	})
	if err != nil {
		return nil, nil, err
	}

	pledges, err := s.loadAllocationTargets(ctx, in.Actor, drafts)
	if err != nil {
		return nil, nil, err
	}

	payment := &models.Payment{
		Amount:              amount,
		Currency:            in.Currency,
		PaymentDate:         date,
		ReceivedDate:        dayPtr(in.ReceivedDate),
		Status:              in.Status,
		PayerContactID:      in.PayerContactID,
		ExternalReferenceID: in.ExternalReferenceID,
		LocationID:          pledges[drafts[0].PledgeID].LocationID,
	}
	usd, err := s.converter.Convert(ctx, amount, in.Currency, enums.CurrencyUSD, date)
	if err != nil {
		return nil, nil, err
	}
	payment.AmountUSD = fx.RoundAmount(usd.Amount)
	payment.ExchangeRate = fx.RoundRate(usd.Rate)

	allocations := make([]models.PaymentAllocation, 0, len(drafts))
	affected := make([]uuid.UUID, 0, len(drafts))
	for i, draft := range drafts {
		pledge := pledges[draft.PledgeID]
		if in.PayerContactID != nil && *in.PayerContactID != pledge.ContactID {
			payment.IsThirdPartyPayment = true
		}
		inPledge, err := s.converter.Convert(ctx, converted[i], in.Currency, pledge.Currency, date)
		if err != nil {
			return nil, nil, err
		}
		allocations = append(allocations, models.PaymentAllocation{
			PledgeID:               pledge.ID,
			AllocatedAmount:        fx.RoundAmount(converted[i]),
			Currency:               in.Currency,
			AllocatedAmountUSD:     fx.RoundAmount(converted[i].Mul(usd.Rate)),
			AmountInPledgeCurrency: fx.RoundAmount(inPledge.Amount),
		})
		affected = append(affected, pledge.ID)
	}

	m := s.begin("create_split_payment")
	defer s.finish(m)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		m.at("insert_payment")
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		m.written()
		m.at("insert_allocations")
		for i := range allocations {
			allocations[i].PaymentID = payment.ID
		}
		if err := repo.CreateAllocations(ctx, allocations); err != nil {
			return err
		}
		m.at("emit_event")
		return s.emitRecorded(ctx, tx, in.Actor, payment, affected)
	})
	if err := s.writeFailure(ctx, m, err, nil, affected); err != nil {
		return nil, nil, err
	}
	if _, err := s.recalcAfter(ctx, m, affected); err != nil {
		return nil, nil, err
	}

	s.info(ctx, "split payment recorded", map[string]any{
		"payment_id":  payment.ID.String(),
		"pledge_ids":  idStrings(affected),
		"allocations": len(allocations),
	})
	return payment, allocations, nil
}

func (s *Service) loadAllocationTargets(ctx context.Context, actor Actor, drafts []AllocationDraft) (map[uuid.UUID]*models.Pledge, error) {
	ids := make([]uuid.UUID, 0, len(drafts))
	for _, d := range drafts {
		ids = append(ids, d.PledgeID)
	}
	rows, err := s.repo.FindPledges(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pledges")
	}
	byID := make(map[uuid.UUID]*models.Pledge, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	var location uuid.UUID
	for i, id := range ids {
		pledge, ok := byID[id]
		if !ok {
			return nil, pledgeNotFound(id)
		}
		if !actor.CanAccess(pledge.LocationID) {
			return nil, forbidden()
		}
		if !pledge.IsActive {
			return nil, pledgeInactive(id)
		}
		if i == 0 {
			location = pledge.LocationID
		} else if pledge.LocationID != location {
			return nil, validation("allocations must target pledges of a single location")
		}
	}
	return byID, nil
}

// stampDirect fills the USD and pledge-currency amounts of a direct payment.
func (s *Service) stampDirect(ctx context.Context, payment *models.Payment, pledgeCurrency enums.Currency) error {
	usd, err := s.converter.Convert(ctx, payment.Amount, payment.Currency, enums.CurrencyUSD, payment.PaymentDate)
	if err != nil {
		return err
	}
	inPledge, err := s.converter.Convert(ctx, payment.Amount, payment.Currency, pledgeCurrency, payment.PaymentDate)
	if err != nil {
		return err
	}
	payment.AmountUSD = fx.RoundAmount(usd.Amount)
	payment.ExchangeRate = fx.RoundRate(usd.Rate)
	inPledgeAmount := fx.RoundAmount(inPledge.Amount)
	payment.AmountInPledgeCurrency = &inPledgeAmount
	return nil
}

// restampAllocations reconverts allocation amounts after a payment date change.
func (s *Service) restampAllocations(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation, usdRate decimal.Decimal) error {
	ids := make([]uuid.UUID, 0, len(allocations))
	for _, a := range allocations {
		ids = append(ids, a.PledgeID)
	}
	pledges, err := s.repo.FindPledges(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pledges")
	}
	currencies := make(map[uuid.UUID]enums.Currency, len(pledges))
	for _, p := range pledges {
		currencies[p.ID] = p.Currency
	}
	for i := range allocations {
		currency, ok := currencies[allocations[i].PledgeID]
		if !ok {
			return pledgeNotFound(allocations[i].PledgeID)
		}
		inPledge, err := s.converter.Convert(ctx, allocations[i].AllocatedAmount, payment.Currency, currency, payment.PaymentDate)
		if err != nil {
			return err
		}
		allocations[i].AllocatedAmountUSD = fx.RoundAmount(allocations[i].AllocatedAmount.Mul(usdRate))
		allocations[i].AmountInPledgeCurrency = fx.RoundAmount(inPledge.Amount)
	}
	return nil
}

// UpdatePayment patches a payment, reconverting when amount, currency, date or
// pledge changes, and recalculates both the old and new pledge. A split
// payment's amount, currency and pledge are fixed.
func (s *Service) UpdatePayment(ctx context.Context, in UpdatePaymentInput) (*models.Payment, error) {
	if in.Status != nil && !in.Status.IsValid() {
		return nil, validation(fmt.Sprintf("invalid payment status %q", *in.Status))
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return nil, validation("payment amount must be positive")
	}
	if in.Currency != nil && !in.Currency.IsValid() {
		return nil, validation(fmt.Sprintf("unsupported currency %q", *in.Currency))
	}
	if in.ReceivedDate != nil && in.ClearReceivedDate {
		return nil, validation("receivedDate cannot be set and cleared together")
	}
	if in.PledgeID != nil && *in.PledgeID == uuid.Nil {
		return nil, validation("pledge id cannot be empty")
	}
	if in.PayerContactID != nil && (in.ClearPayerContact || *in.PayerContactID == uuid.Nil) {
		return nil, validation("payerContactId must be a contact id or null")
	}

	payment, allocations, err := s.loadPayment(ctx, in.Actor, in.PaymentID)
	if err != nil {
		return nil, err
	}
	split := len(allocations) > 0
	previousStatus := payment.Status

	amountChanged := in.Amount != nil && !fx.RoundAmount(*in.Amount).Equal(payment.Amount)
	currencyChanged := in.Currency != nil && *in.Currency != payment.Currency
	dateChanged := in.PaymentDate != nil && !dayStart(*in.PaymentDate).Equal(dayStart(payment.PaymentDate))
	pledgeChanged := in.PledgeID != nil && (payment.PledgeID == nil || *payment.PledgeID != *in.PledgeID)
	payerChanged := (in.ClearPayerContact && payment.PayerContactID != nil) ||
		(in.PayerContactID != nil && (payment.PayerContactID == nil || *payment.PayerContactID != *in.PayerContactID))

	affected := make([]uuid.UUID, 0, len(allocations)+2)
	if split {
		if amountChanged || currencyChanged || pledgeChanged {
			return nil, validation("split payment amount, currency and pledge cannot change; delete and re-record it")
		}
		for _, a := range allocations {
			affected = append(affected, a.PledgeID)
		}
	} else if payment.PledgeID != nil {
		affected = append(affected, *payment.PledgeID)
	}

	if amountChanged {
		payment.Amount = fx.RoundAmount(*in.Amount)
	}
	if currencyChanged {
		payment.Currency = *in.Currency
	}
	if dateChanged {
		payment.PaymentDate = dayStart(*in.PaymentDate)
	}
	if in.Status != nil {
		payment.Status = *in.Status
	}
	if in.ReceivedDate != nil {
		payment.ReceivedDate = dayPtr(in.ReceivedDate)
	}
	if in.ClearReceivedDate {
		payment.ReceivedDate = nil
	}
	if payerChanged {
		if in.ClearPayerContact {
			payment.PayerContactID = nil
		} else {
			if _, err := s.repo.FindContact(ctx, *in.PayerContactID); err != nil {
				if isNotFound(err) {
					return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrContactNotFound, "payer contact not found")
				}
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payer contact")
			}
			payer := *in.PayerContactID
			payment.PayerContactID = &payer
		}
	}

	if split {
		if payerChanged {
			pledges, err := s.repo.FindPledges(ctx, affected)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocated pledges")
			}
			payment.IsThirdPartyPayment = false
			for _, p := range pledges {
				if payment.PayerContactID != nil && *payment.PayerContactID != p.ContactID {
					payment.IsThirdPartyPayment = true
				}
			}
		}
		if dateChanged {
			usd, err := s.converter.Convert(ctx, payment.Amount, payment.Currency, enums.CurrencyUSD, payment.PaymentDate)
			if err != nil {
				return nil, err
			}
			payment.AmountUSD = fx.RoundAmount(usd.Amount)
			payment.ExchangeRate = fx.RoundRate(usd.Rate)
			if err := s.restampAllocations(ctx, payment, allocations, usd.Rate); err != nil {
				return nil, err
			}
		}
	} else if payment.PledgeID != nil || pledgeChanged {
		target := payment.PledgeID
		if pledgeChanged {
			target = in.PledgeID
		}
		restamp := amountChanged || currencyChanged || dateChanged || pledgeChanged
		if restamp || payerChanged {
			pledge, err := s.loadPledge(ctx, in.Actor, *target, pledgeChanged)
			if err != nil {
				return nil, err
			}
			if pledgeChanged && pledge.LocationID != payment.LocationID {
				return nil, validation("payment cannot move to a pledge of another location")
			}
			payment.PledgeID = &pledge.ID
			payment.IsThirdPartyPayment = payment.PayerContactID != nil && *payment.PayerContactID != pledge.ContactID
			if restamp {
				if err := s.stampDirect(ctx, payment, pledge.Currency); err != nil {
					return nil, err
				}
			}
		}
		affected = append(affected, *payment.PledgeID)
	}
	affected = uniqueIDs(affected)

	m := s.begin("update_payment")
	defer s.finish(m)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		m.at("update_payment")
		if err := repo.SavePayment(ctx, payment); err != nil {
			return err
		}
		m.written()
		if split && dateChanged {
			m.at("update_allocations")
			for i := range allocations {
				if err := repo.SaveAllocation(ctx, &allocations[i]); err != nil {
					return err
				}
			}
		}
		m.at("emit_event")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentUpdated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         in.Actor.ref(),
			Data: payloads.PaymentUpdatedEvent{
				PaymentID:         payment.ID,
				PreviousStatus:    previousStatus,
				Status:            payment.Status,
				Amount:            payment.Amount,
				Currency:          payment.Currency,
				AffectedPledgeIDs: affected,
			},
		})
	})
	if err := s.writeFailure(ctx, m, err, nil, affected); err != nil {
		return nil, err
	}
	if _, err := s.recalcAfter(ctx, m, affected); err != nil {
		return nil, err
	}

	s.info(ctx, "payment updated", map[string]any{
		"payment_id":      payment.ID.String(),
		"previous_status": previousStatus,
		"status":          payment.Status,
		"pledge_ids":      idStrings(affected),
	})
	return payment, nil
}

// UpdatePaymentStatus moves a payment to status and recalculates the pledges
// it credits.
func (s *Service) UpdatePaymentStatus(ctx context.Context, actor Actor, paymentID uuid.UUID, status enums.PaymentStatus) (*models.Payment, error) {
	if !status.IsValid() {
		return nil, validation(fmt.Sprintf("invalid payment status %q", status))
	}
	return s.UpdatePayment(ctx, UpdatePaymentInput{Actor: actor, PaymentID: paymentID, Status: &status})
}

// DeletePayment removes a payment after its bonus calculations and
// allocations, then recalculates every pledge it credited.
func (s *Service) DeletePayment(ctx context.Context, actor Actor, paymentID uuid.UUID) (DeletePaymentResult, error) {
	payment, allocations, err := s.loadPayment(ctx, actor, paymentID)
	if err != nil {
		return DeletePaymentResult{}, err
	}
	affected := make([]uuid.UUID, 0, len(allocations)+1)
	for _, a := range allocations {
		affected = append(affected, a.PledgeID)
	}
	if payment.PledgeID != nil {
		affected = append(affected, *payment.PledgeID)
	}
	affected = uniqueIDs(affected)
	result := DeletePaymentResult{PaymentID: payment.ID}
	ids := []uuid.UUID{payment.ID}

	m := s.begin("delete_payment")
	defer s.finish(m)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		m.at("delete_bonus_calculations")
		n, err := repo.DeleteBonusCalculations(ctx, ids)
		if err != nil {
			return err
		}
		result.DeletedBonusCalculations = n
		m.written()

		m.at("delete_allocations")
		if result.DeletedAllocations, err = repo.DeleteAllocationsForPayments(ctx, ids); err != nil {
			return err
		}

		m.at("delete_payment")
		if n, err = repo.DeletePayments(ctx, ids); err != nil {
			return err
		}
		if n == 0 {
			return paymentNotFound(payment.ID)
		}

		m.at("emit_event")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentDeleted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         actor.ref(),
			Data: payloads.PaymentDeletedEvent{
				PaymentID:          payment.ID,
				DeletedAllocations: result.DeletedAllocations,
				AffectedPledgeIDs:  affected,
			},
		})
	})
	if err := s.writeFailure(ctx, m, err, nil, affected); err != nil {
		return DeletePaymentResult{}, err
	}
	done, err := s.recalcAfter(ctx, m, affected)
	if err != nil {
		return DeletePaymentResult{}, err
	}
	result.RecalculatedPledgeIDs = done

	s.info(ctx, "payment deleted", map[string]any{
		"payment_id":  payment.ID.String(),
		"allocations": result.DeletedAllocations,
		"pledge_ids":  idStrings(done),
	})
	return result, nil
}

// DeletePledge removes a pledge and everything that references it. Split
// payments crediting it from elsewhere are removed whole so no payment is left
// partially allocated. Sibling pledges are recalculated once those rows are
// gone and before the pledge's own payments are removed.
func (s *Service) DeletePledge(ctx context.Context, actor Actor, pledgeID uuid.UUID) (DeletePledgeResult, error) {
	if pledgeID == uuid.Nil {
		return DeletePledgeResult{}, validation("pledge id required")
	}
	if _, err := s.loadPledge(ctx, actor, pledgeID, false); err != nil {
		return DeletePledgeResult{}, err
	}

	result := DeletePledgeResult{PledgeID: pledgeID}
	var siblings, recalculated []uuid.UUID

	m := s.begin("delete_pledge")
	defer s.finish(m)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		recalculated = nil

		m.at("collect_dependents")
		paymentIDs, err := repo.PaymentIDsForPledge(ctx, pledgeID)
		if err != nil {
			return err
		}
		splitIDs, err := repo.SplitPaymentIDsIntoPledge(ctx, pledgeID)
		if err != nil {
			return err
		}
		doomed := uniqueIDs(append(append([]uuid.UUID{}, paymentIDs...), splitIDs...))
		if siblings, err = repo.SiblingPledgeIDs(ctx, pledgeID, doomed); err != nil {
			return err
		}

		m.at("delete_bonus_calculations")
		if result.DeletedBonusCalculations, err = repo.DeleteBonusCalculations(ctx, doomed); err != nil {
			return err
		}
		m.written()

		m.at("delete_allocations")
		fromPayments, err := repo.DeleteAllocationsForPayments(ctx, doomed)
		if err != nil {
			return err
		}
		intoPledge, err := repo.DeleteAllocationsIntoPledge(ctx, pledgeID)
		if err != nil {
			return err
		}
		result.DeletedAllocations = fromPayments + intoPledge

		// split payments go before sibling recalculation, otherwise an
		// allocation-free payment would count as direct for its owner
		m.at("delete_split_payments")
		deletedSplits, err := repo.DeletePayments(ctx, splitIDs)
		if err != nil {
			return err
		}

		m.at("recalculate_siblings")
		for _, id := range siblings {
			if _, err := s.recalc.recalculateIn(ctx, tx, id); err != nil {
				return fmt.Errorf("recalculate sibling %s: %w", id, err)
			}
			recalculated = append(recalculated, id)
		}

		m.at("unlink_installments")
		if err := repo.UnlinkInstallments(ctx, pledgeID); err != nil {
			return err
		}
		m.at("delete_payments")
		deletedOwn, err := repo.DeletePayments(ctx, paymentIDs)
		if err != nil {
			return err
		}
		result.DeletedPayments = deletedOwn + deletedSplits
		m.at("delete_installments")
		if result.DeletedInstallments, err = repo.DeleteInstallments(ctx, pledgeID); err != nil {
			return err
		}
		m.at("delete_plans")
		if result.DeletedPlans, err = repo.DeletePlans(ctx, pledgeID); err != nil {
			return err
		}
		m.at("delete_tags")
		if result.DeletedTags, err = repo.DeleteTags(ctx, pledgeID); err != nil {
			return err
		}
		m.at("delete_pledge")
		if err := repo.DeletePledge(ctx, pledgeID); err != nil {
			return err
		}

		m.at("emit_event")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPledgeDeleted,
			AggregateType: enums.AggregatePledge,
			AggregateID:   pledgeID,
			Actor:         actor.ref(),
			Data: payloads.PledgeDeletedEvent{
				PledgeID:                 pledgeID,
				DeletedBonusCalculations: result.DeletedBonusCalculations,
				DeletedPayments:          result.DeletedPayments,
				DeletedAllocations:       result.DeletedAllocations,
				DeletedPlans:             result.DeletedPlans,
				DeletedInstallments:      result.DeletedInstallments,
				DeletedTags:              result.DeletedTags,
				RecalculatedPledgeIDs:    recalculated,
			},
		})
	})
	if err != nil {
		return DeletePledgeResult{}, s.writeFailure(ctx, m, err, recalculated, subtractIDs(siblings, recalculated))
	}
	result.RecalculatedPledgeIDs = nonNilIDs(recalculated)

	s.info(ctx, "pledge deleted", map[string]any{
		"pledge_id":            pledgeID.String(),
		"deleted_payments":     result.DeletedPayments,
		"deleted_allocations":  result.DeletedAllocations,
		"deleted_plans":        result.DeletedPlans,
		"recalculated_pledges": idStrings(recalculated),
	})
	return result, nil
}

// Recalculate is the operator repair entry point for one pledge.
func (s *Service) Recalculate(ctx context.Context, actor Actor, pledgeID uuid.UUID) (PledgeAggregates, error) {
	if _, err := s.loadPledge(ctx, actor, pledgeID, false); err != nil {
		return PledgeAggregates{}, err
	}
	agg, err := s.recalc.Recalculate(ctx, pledgeID)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return PledgeAggregates{}, err
		}
		return PledgeAggregates{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recalculate pledge")
	}
	return agg, nil
}

// RecalculateMany repairs several pledges and reports the ids that failed.
func (s *Service) RecalculateMany(ctx context.Context, actor Actor, pledgeIDs []uuid.UUID) ([]PledgeAggregates, error) {
	ids := uniqueIDs(pledgeIDs)
	if len(ids) == 0 {
		return nil, validation("at least one pledge id required")
	}
	pledges, err := s.repo.FindPledges(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pledges")
	}
	for _, p := range pledges {
		if !actor.CanAccess(p.LocationID) {
			return nil, forbidden()
		}
	}
	results, err := s.recalc.RecalculateMany(ctx, ids)
	if err != nil {
		return results, pkgerrors.Wrap(pkgerrors.CodePartialMutation, err, "some pledges could not be recalculated").
			WithDetails(map[string]any{"requested": len(ids), "recalculated": len(results)})
	}
	return results, nil
}

// ListPayments pages through payments matching query, latest payment date
// first. Callers bound to a location only see that location.
func (s *Service) ListPayments(ctx context.Context, actor Actor, query PaymentQuery, params pagination.Params) (PaymentPage, error) {
	if actor.LocationID != nil {
		var err error
		if query, err = query.Without(FilterLocation).With(AtLocation(*actor.LocationID)); err != nil {
			return PaymentPage{}, validation(err.Error())
		}
	} else if actor.Role != enums.ActorRoleAdmin {
		return PaymentPage{}, forbidden()
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return PaymentPage{}, validation(err.Error())
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListPayments(ctx, query, cursor, limit+1)
	if err != nil {
		return PaymentPage{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}

	items, more := pagination.Trim(rows, limit)
	page := PaymentPage{Items: items}
	if more {
		last := items[len(items)-1]
		page.NextCursor = pagination.Cursor{At: last.PaymentDate, ID: last.ID}.Encode()
	}
	return page, nil
}

// RecordGatewayConfirmation turns a gateway confirmation into a completed
// payment. A reference seen before returns the stored payment and repairs
// the pledges it credits.
func (s *Service) RecordGatewayConfirmation(ctx context.Context, c GatewayConfirmation) (*models.Payment, bool, error) {
	ref := strings.TrimSpace(c.ExternalReferenceID)
	if ref == "" {
		return nil, false, validation("external reference id required")
	}
	if c.PledgeID != nil && len(c.Allocations) > 0 {
		return nil, false, validation("confirmation carries both a pledge id and allocations")
	}
	if c.PledgeID == nil && len(c.Allocations) == 0 {
		return nil, false, validation("confirmation needs a pledge id or allocations")
	}

	if existing, err := s.replayConfirmation(ctx, ref); existing != nil || err != nil {
		return existing, false, err
	}

	actor := SystemActor()
	received := dayStart(c.PaymentDate)
	var (
		payment *models.Payment
		err     error
	)
	if c.PledgeID != nil {
		payment, err = s.CreateDirectPayment(ctx, CreateDirectPaymentInput{
			Actor:               actor,
			PledgeID:            *c.PledgeID,
			Amount:              c.Amount,
			Currency:            c.Currency,
			PaymentDate:         c.PaymentDate,
			ReceivedDate:        &received,
			Status:              enums.PaymentStatusCompleted,
			PayerContactID:      c.PayerContactID,
			ExternalReferenceID: &ref,
		})
	} else {
		payment, _, err = s.CreateSplitPayment(ctx, CreateSplitPaymentInput{
			Actor:               actor,
			Amount:              c.Amount,
			Currency:            c.Currency,
			PaymentDate:         c.PaymentDate,
			ReceivedDate:        &received,
			Status:              enums.PaymentStatusCompleted,
			PayerContactID:      c.PayerContactID,
			ExternalReferenceID: &ref,
			Allocations:         c.Allocations,
		})
	}
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			existing, replayErr := s.replayConfirmation(ctx, ref)
			if existing != nil || replayErr != nil {
				return existing, false, replayErr
			}
		}
		return nil, false, err
	}
	return payment, true, nil
}

func (s *Service) replayConfirmation(ctx context.Context, ref string) (*models.Payment, error) {
	existing, err := s.repo.FindPaymentByExternalReference(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup external reference")
	}
	allocations, err := s.repo.ListAllocationsByPayment(ctx, existing.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	affected := make([]uuid.UUID, 0, len(allocations)+1)
	for _, a := range allocations {
		affected = append(affected, a.PledgeID)
	}
	if existing.PledgeID != nil {
		affected = append(affected, *existing.PledgeID)
	}
	m := s.begin("replay_gateway_confirmation")
	defer s.finish(m)
	if _, err := s.recalcAfter(ctx, m, affected); err != nil {
		return nil, err
	}
	s.info(ctx, "gateway confirmation already recorded", map[string]any{
		"payment_id":            existing.ID.String(),
		"external_reference_id": ref,
	})
	return existing, nil
}

func (s *Service) emitRecorded(ctx context.Context, tx *gorm.DB, actor Actor, payment *models.Payment, allocated []uuid.UUID) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor.ref(),
		Data: payloads.PaymentRecordedEvent{
			PaymentID:           payment.ID,
			PledgeID:            payment.PledgeID,
			Amount:              payment.Amount,
			Currency:            payment.Currency,
			AmountUSD:           payment.AmountUSD,
			Status:              payment.Status,
			PaymentDate:         payment.PaymentDate,
			AllocatedPledgeIDs:  allocated,
			ExternalReferenceID: payment.ExternalReferenceID,
		},
	})
}

func validatePaymentFields(amount decimal.Decimal, currency enums.Currency, status enums.PaymentStatus, date time.Time) error {
	if !amount.IsPositive() {
		return validation("payment amount must be positive")
	}
	if !currency.IsValid() {
		return validation(fmt.Sprintf("unsupported currency %q", currency))
	}
	if !status.IsValid() {
		return validation(fmt.Sprintf("invalid payment status %q", status))
	}
	if date.IsZero() {
		return validation("payment date required")
	}
	return nil
}

func dayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := dayStart(*t)
	return &d
}

func subtractIDs(all, done []uuid.UUID) []uuid.UUID {
	skip := make(map[uuid.UUID]struct{}, len(done))
	for _, id := range done {
		skip[id] = struct{}{}
	}
	var out []uuid.UUID
	for _, id := range all {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
