package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// FilterKind enumerates the predicates a payment listing can combine.
type FilterKind int

const (
	FilterDateRange FilterKind = iota + 1
	FilterCurrency
	FilterStatus
	FilterPledge
	FilterLocation
)

func (k FilterKind) String() string {
	switch k {
	case FilterDateRange:
		return "date_range"
	case FilterCurrency:
		return "currency"
	case FilterStatus:
		return "status"
	case FilterPledge:
		return "pledge"
	case FilterLocation:
		return "location"
	}
	return fmt.Sprintf("filter(%d)", int(k))
}

// Filter is one typed predicate over payments. Build it with the
// constructors below.
type Filter struct {
	kind       FilterKind
	from       *time.Time
	to         *time.Time
	currencies []enums.Currency
	statuses   []enums.PaymentStatus
	id         uuid.UUID
}

// PaymentDateBetween matches payment dates within [from, to], both inclusive
// calendar days. Either bound may be nil.
func PaymentDateBetween(from, to *time.Time) Filter {
	return Filter{kind: FilterDateRange, from: from, to: to}
}

func CurrencyIn(currencies ...enums.Currency) Filter {
	return Filter{kind: FilterCurrency, currencies: currencies}
}

func StatusIn(statuses ...enums.PaymentStatus) Filter {
	return Filter{kind: FilterStatus, statuses: statuses}
}

// CreditingPledge matches direct payments on the pledge and split payments
// with an allocation into it.
func CreditingPledge(id uuid.UUID) Filter {
	return Filter{kind: FilterPledge, id: id}
}

func AtLocation(id uuid.UUID) Filter {
	return Filter{kind: FilterLocation, id: id}
}

func (f Filter) Kind() FilterKind {
	return f.kind
}

func (f Filter) validate() error {
	switch f.kind {
	case FilterDateRange:
		if f.from == nil && f.to == nil {
			return fmt.Errorf("date range needs at least one bound")
		}
		if f.from != nil && f.to != nil && dayStart(*f.from).After(dayStart(*f.to)) {
			return fmt.Errorf("date range start is after its end")
		}
	case FilterCurrency:
		if len(f.currencies) == 0 {
			return fmt.Errorf("currency filter is empty")
		}
		for _, c := range f.currencies {
			if !c.IsValid() {
				return fmt.Errorf("unsupported currency %q", c)
			}
		}
	case FilterStatus:
		if len(f.statuses) == 0 {
			return fmt.Errorf("status filter is empty")
		}
		for _, s := range f.statuses {
			if !s.IsValid() {
				return fmt.Errorf("invalid payment status %q", s)
			}
		}
	case FilterPledge, FilterLocation:
		if f.id == uuid.Nil {
			return fmt.Errorf("%s filter requires an id", f.kind)
		}
	default:
		return fmt.Errorf("unknown filter kind %d", int(f.kind))
	}
	return nil
}

func (f Filter) apply(db *gorm.DB) *gorm.DB {
	switch f.kind {
	case FilterDateRange:
		if f.from != nil {
			db = db.Where("payments.payment_date >= ?", dayStart(*f.from))
		}
		if f.to != nil {
			db = db.Where("payments.payment_date < ?", dayStart(*f.to).AddDate(0, 0, 1))
		}
	case FilterCurrency:
		db = db.Where("payments.currency IN ?", f.currencies)
	case FilterStatus:
		db = db.Where("payments.payment_status IN ?", f.statuses)
	case FilterPledge:
		sub := db.Session(&gorm.Session{NewDB: true}).
			Table("payment_allocations").
			Select("payment_id").
			Where("pledge_id = ?", f.id)
		db = db.Where("payments.pledge_id = ? OR payments.id IN (?)", f.id, sub)
	case FilterLocation:
		db = db.Where("payments.location_id = ?", f.id)
	}
	return db
}

// PaymentQuery is a validated set of filters with at most one per kind.
type PaymentQuery struct {
	filters []Filter
}

// NewPaymentQuery validates filters and composes them with AND.
func NewPaymentQuery(filters ...Filter) (PaymentQuery, error) {
	q := PaymentQuery{}
	for _, f := range filters {
		var err error
		if q, err = q.With(f); err != nil {
			return PaymentQuery{}, err
		}
	}
	return q, nil
}

// With returns a copy of q extended by f.
func (q PaymentQuery) With(f Filter) (PaymentQuery, error) {
	if err := f.validate(); err != nil {
		return PaymentQuery{}, err
	}
	if q.Has(f.kind) {
		return PaymentQuery{}, fmt.Errorf("duplicate %s filter", f.kind)
	}
	next := make([]Filter, 0, len(q.filters)+1)
	next = append(next, q.filters...)
	next = append(next, f)
	return PaymentQuery{filters: next}, nil
}

// Without returns a copy of q with every filter of kind removed.
func (q PaymentQuery) Without(kind FilterKind) PaymentQuery {
	next := make([]Filter, 0, len(q.filters))
	for _, f := range q.filters {
		if f.kind != kind {
			next = append(next, f)
		}
	}
	return PaymentQuery{filters: next}
}

func (q PaymentQuery) Has(kind FilterKind) bool {
	for _, f := range q.filters {
		if f.kind == kind {
			return true
		}
	}
	return false
}

func (q PaymentQuery) Kinds() []FilterKind {
	kinds := make([]FilterKind, 0, len(q.filters))
	for _, f := range q.filters {
		kinds = append(kinds, f.kind)
	}
	return kinds
}

// Apply adds the query's predicates to db.
func (q PaymentQuery) Apply(db *gorm.DB) *gorm.DB {
	for _, f := range q.filters {
		db = f.apply(db)
	}
	return db
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
