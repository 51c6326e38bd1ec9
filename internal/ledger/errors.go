package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
)

var (
	ErrAllocationMismatch = errors.New("allocation mismatch")
	ErrPledgeNotFound     = errors.New("pledge not found")
	ErrPledgeInactive     = errors.New("pledge inactive")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrContactNotFound    = errors.New("contact not found")
)

// PartialMutationFailure is returned when a mutation failed after at least one
// write became durable. Pending lists the pledges an operator should
// recalculate.
type PartialMutationFailure struct {
	Operation    string
	Step         string
	Recalculated []uuid.UUID
	Pending      []uuid.UUID
	Err          error
}

func (e *PartialMutationFailure) Error() string {
	ids := make([]string, 0, len(e.Pending))
	for _, id := range e.Pending {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("%s failed at %s (pending recalculation: %s): %v",
		e.Operation, e.Step, strings.Join(ids, ","), e.Err)
}

func (e *PartialMutationFailure) Unwrap() error {
	return e.Err
}

func (e *PartialMutationFailure) coded() error {
	return pkgerrors.Wrap(pkgerrors.CodePartialMutation, e, e.Error()).WithDetails(map[string]any{
		"operation":    e.Operation,
		"step":         e.Step,
		"recalculated": nonNilIDs(e.Recalculated),
		"pending":      nonNilIDs(e.Pending),
	})
}

func allocationMismatch(msg string, details map[string]any) error {
	err := pkgerrors.Wrap(pkgerrors.CodeAllocationMismatch, ErrAllocationMismatch, msg)
	if details != nil {
		err = err.WithDetails(details)
	}
	return err
}

func pledgeNotFound(id uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPledgeNotFound, "pledge not found").
		WithDetails(map[string]any{"pledgeId": id})
}

func pledgeInactive(id uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodePledgeInactive, ErrPledgeInactive, "pledge is not active").
		WithDetails(map[string]any{"pledgeId": id})
}

func paymentNotFound(id uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPaymentNotFound, "payment not found").
		WithDetails(map[string]any{"paymentId": id})
}

func forbidden() error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "location access denied")
}

func validation(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
