package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/internal/repo"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/pagination"
)

// Repository manages persistence for pledges, payments and their dependents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindContact(ctx context.Context, id uuid.UUID) (*models.Contact, error)
	FindPledge(ctx context.Context, id uuid.UUID) (*models.Pledge, error)
	FindPledges(ctx context.Context, ids []uuid.UUID) ([]models.Pledge, error)
	CreatePledge(ctx context.Context, pledge *models.Pledge) error
	UpdatePledgeAggregates(ctx context.Context, agg PledgeAggregates) error
	ListPledgeIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)

	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SavePayment(ctx context.Context, payment *models.Payment) error
	ListPayments(ctx context.Context, query PaymentQuery, cursor *pagination.Cursor, limit int) ([]models.Payment, error)

	CreateAllocations(ctx context.Context, allocations []models.PaymentAllocation) error
	SaveAllocation(ctx context.Context, allocation *models.PaymentAllocation) error
	ListAllocationsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error)

	ListCompletedDirectPayments(ctx context.Context, pledgeID uuid.UUID) ([]models.Payment, error)
	ListCompletedAllocations(ctx context.Context, pledgeID uuid.UUID) ([]models.PaymentAllocation, error)
	ListScheduledDirectPayments(ctx context.Context, pledgeID uuid.UUID) ([]models.Payment, error)
	ListScheduledAllocations(ctx context.Context, pledgeID uuid.UUID) ([]models.PaymentAllocation, error)

	PaymentIDsForPledge(ctx context.Context, pledgeID uuid.UUID) ([]uuid.UUID, error)
	SplitPaymentIDsIntoPledge(ctx context.Context, pledgeID uuid.UUID) ([]uuid.UUID, error)
	SiblingPledgeIDs(ctx context.Context, pledgeID uuid.UUID, paymentIDs []uuid.UUID) ([]uuid.UUID, error)
	DeleteBonusCalculations(ctx context.Context, paymentIDs []uuid.UUID) (int64, error)
	DeleteAllocationsForPayments(ctx context.Context, paymentIDs []uuid.UUID) (int64, error)
	DeleteAllocationsIntoPledge(ctx context.Context, pledgeID uuid.UUID) (int64, error)
	UnlinkInstallments(ctx context.Context, pledgeID uuid.UUID) error
	DeletePayments(ctx context.Context, paymentIDs []uuid.UUID) (int64, error)
	DeleteInstallments(ctx context.Context, pledgeID uuid.UUID) (int64, error)
	DeletePlans(ctx context.Context, pledgeID uuid.UUID) (int64, error)
	DeleteTags(ctx context.Context, pledgeID uuid.UUID) (int64, error)
	DeletePledge(ctx context.Context, pledgeID uuid.UUID) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindContact(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	var contact models.Contact
	if err := r.DB(ctx).Where("id = ?", id).First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *repository) FindPledge(ctx context.Context, id uuid.UUID) (*models.Pledge, error) {
	var pledge models.Pledge
	if err := r.DB(ctx).Where("id = ?", id).First(&pledge).Error; err != nil {
		return nil, err
	}
	return &pledge, nil
}

func (r *repository) FindPledges(ctx context.Context, ids []uuid.UUID) ([]models.Pledge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var pledges []models.Pledge
	err := r.DB(ctx).Where("id IN ?", ids).Find(&pledges).Error
	return pledges, err
}

func (r *repository) CreatePledge(ctx context.Context, pledge *models.Pledge) error {
	return r.DB(ctx).Create(pledge).Error
}

// UpdatePledgeAggregates writes the four derived columns in one statement.
func (r *repository) UpdatePledgeAggregates(ctx context.Context, agg PledgeAggregates) error {
	res := r.DB(ctx).Model(&models.Pledge{}).
		Where("id = ?", agg.PledgeID).
		Updates(map[string]any{
			"total_paid":     agg.TotalPaid,
			"total_paid_usd": agg.TotalPaidUSD,
			"balance":        agg.Balance,
			"balance_usd":    agg.BalanceUSD,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListPledgeIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.DB(ctx).Model(&models.Pledge{})
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var ids []uuid.UUID
	err := query.Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.DB(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.DB(ctx).Where("external_reference_id = ?", ref).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.DB(ctx).Create(payment).Error
}

func (r *repository) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.DB(ctx).Save(payment).Error
}

func (r *repository) ListPayments(ctx context.Context, query PaymentQuery, cursor *pagination.Cursor, limit int) ([]models.Payment, error) {
	db := query.Apply(r.DB(ctx).Model(&models.Payment{}))
	if cursor != nil {
		db = db.Where("(payments.payment_date < ?) OR (payments.payment_date = ? AND payments.id < ?)", cursor.At, cursor.At, cursor.ID)
	}
	var payments []models.Payment
	err := db.Order("payments.payment_date DESC").Order("payments.id DESC").Limit(limit).Find(&payments).Error
	return payments, err
}

func (r *repository) CreateAllocations(ctx context.Context, allocations []models.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	return r.DB(ctx).Create(&allocations).Error
}

func (r *repository) SaveAllocation(ctx context.Context, allocation *models.PaymentAllocation) error {
	return r.DB(ctx).Save(allocation).Error
}

func (r *repository) ListAllocationsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	err := r.DB(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&allocations).Error
	return allocations, err
}

func (r *repository) noAllocations(ctx context.Context) *gorm.DB {
	return r.DB(ctx).Session(&gorm.Session{NewDB: true}).
		Table("payment_allocations").
		Select("1").
		Where("payment_allocations.payment_id = payments.id")
}

func (r *repository) ListCompletedDirectPayments(ctx context.Context, pledgeID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.DB(ctx).
		Where("pledge_id = ? AND payment_status = ?", pledgeID, enums.PaymentStatusCompleted).
		Where("NOT EXISTS (?)", r.noAllocations(ctx)).
		Find(&payments).Error
	return payments, err
}

func (r *repository) ListCompletedAllocations(ctx context.Context, pledgeID uuid.UUID) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	err := r.DB(ctx).
		Joins("JOIN payments ON payments.id = payment_allocations.payment_id").
		Where("payment_allocations.pledge_id = ? AND payments.payment_status = ?", pledgeID, enums.PaymentStatusCompleted).
		Find(&allocations).Error
	return allocations, err
}

func (r *repository) ListScheduledDirectPayments(ctx context.Context, pledgeID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.DB(ctx).
		Where("pledge_id = ? AND received_date IS NULL AND payment_status IN ?", pledgeID, enums.ScheduledPaymentStatuses()).
		Where("NOT EXISTS (?)", r.noAllocations(ctx)).
		Find(&payments).Error
	return payments, err
}

func (r *repository) ListScheduledAllocations(ctx context.Context, pledgeID uuid.UUID) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	err := r.DB(ctx).
		Joins("JOIN payments ON payments.id = payment_allocations.payment_id").
		Where("payment_allocations.pledge_id = ?", pledgeID).
		Where("payments.received_date IS NULL AND payments.payment_status IN ?", enums.ScheduledPaymentStatuses()).
		Find(&allocations).Error
	return allocations, err
}

func (r *repository) PaymentIDsForPledge(ctx context.Context, pledgeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).Model(&models.Payment{}).Where("pledge_id = ?", pledgeID).Pluck("id", &ids).Error
	return ids, err
}

// SplitPaymentIDsIntoPledge returns payments owned elsewhere that allocate into
// pledgeID and would be left partially allocated without it: ownerless
// payments, and payments that also credit some other pledge.
func (r *repository) SplitPaymentIDsIntoPledge(ctx context.Context, pledgeID uuid.UUID) ([]uuid.UUID, error) {
	into := r.DB(ctx).Session(&gorm.Session{NewDB: true}).
		Model(&models.PaymentAllocation{}).
		Select("payment_id").
		Where("pledge_id = ?", pledgeID)
	elsewhere := r.DB(ctx).Session(&gorm.Session{NewDB: true}).
		Model(&models.PaymentAllocation{}).
		Select("payment_id").
		Where("pledge_id <> ?", pledgeID)

	var ids []uuid.UUID
	err := r.DB(ctx).Model(&models.Payment{}).
		Where("id IN (?)", into).
		Where("pledge_id IS NULL OR (pledge_id <> ? AND id IN (?))", pledgeID, elsewhere).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// SiblingPledgeIDs returns the other pledges whose totals change when
// pledgeID goes away: pledges credited by allocations of its payments, and the
// owning pledges of payments that allocate into it.
func (r *repository) SiblingPledgeIDs(ctx context.Context, pledgeID uuid.UUID, paymentIDs []uuid.UUID) ([]uuid.UUID, error) {
	var credited []uuid.UUID
	if len(paymentIDs) > 0 {
		if err := r.DB(ctx).Model(&models.PaymentAllocation{}).
			Where("payment_id IN ? AND pledge_id <> ?", paymentIDs, pledgeID).
			Distinct().
			Pluck("pledge_id", &credited).Error; err != nil {
			return nil, err
		}
	}

	var owners []uuid.UUID
	sub := r.DB(ctx).Session(&gorm.Session{NewDB: true}).
		Model(&models.PaymentAllocation{}).
		Select("payment_id").
		Where("pledge_id = ?", pledgeID)
	if err := r.DB(ctx).Model(&models.Payment{}).
		Where("id IN (?) AND pledge_id IS NOT NULL AND pledge_id <> ?", sub, pledgeID).
		Distinct().
		Pluck("pledge_id", &owners).Error; err != nil {
		return nil, err
	}
	return uniqueIDs(append(credited, owners...)), nil
}

func (r *repository) DeleteBonusCalculations(ctx context.Context, paymentIDs []uuid.UUID) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Where("payment_id IN ?", paymentIDs).Delete(&models.BonusCalculation{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteAllocationsForPayments(ctx context.Context, paymentIDs []uuid.UUID) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Where("payment_id IN ?", paymentIDs).Delete(&models.PaymentAllocation{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteAllocationsIntoPledge(ctx context.Context, pledgeID uuid.UUID) (int64, error) {
	res := r.DB(ctx).Where("pledge_id = ?", pledgeID).Delete(&models.PaymentAllocation{})
	return res.RowsAffected, res.Error
}

// UnlinkInstallments clears installment references held by payments of other
// pledges so the installments can be removed.
func (r *repository) UnlinkInstallments(ctx context.Context, pledgeID uuid.UUID) error {
	sub := r.DB(ctx).Session(&gorm.Session{NewDB: true}).
		Model(&models.InstallmentSchedule{}).
		Select("id").
		Where("pledge_id = ?", pledgeID)
	return r.DB(ctx).Model(&models.Payment{}).
		Where("installment_schedule_id IN (?)", sub).
		Update("installment_schedule_id", nil).Error
}

func (r *repository) DeletePayments(ctx context.Context, paymentIDs []uuid.UUID) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Where("id IN ?", paymentIDs).Delete(&models.Payment{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteInstallments(ctx context.Context, pledgeID uuid.UUID) (int64, error) {
	res := r.DB(ctx).Where("pledge_id = ?", pledgeID).Delete(&models.InstallmentSchedule{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeletePlans(ctx context.Context, pledgeID uuid.UUID) (int64, error) {
	res := r.DB(ctx).Where("pledge_id = ?", pledgeID).Delete(&models.PaymentPlan{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteTags(ctx context.Context, pledgeID uuid.UUID) (int64, error) {
	res := r.DB(ctx).Where("pledge_id = ?", pledgeID).Delete(&models.PledgeTag{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeletePledge(ctx context.Context, pledgeID uuid.UUID) error {
	res := r.DB(ctx).Where("id = ?", pledgeID).Delete(&models.Pledge{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
