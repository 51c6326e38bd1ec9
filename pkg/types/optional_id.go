package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var errZeroID = errors.New("id must not be the zero uuid")

// OptionalID is a PATCH field holding a reference such as payerContactId.
// Absent leaves the stored reference alone, null clears it and a uuid
// replaces it.
type OptionalID struct {
	Present bool
	ID      *uuid.UUID
}

// Clears reports whether the request explicitly nulled the reference.
func (o OptionalID) Clears() bool { return o.Present && o.ID == nil }

// UnmarshalJSON implements json.Unmarshaler. It only runs when the key is in
// the body, which is what marks the field present.
func (o *OptionalID) UnmarshalJSON(data []byte) error {
	var id *uuid.UUID
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	if id != nil && *id == uuid.Nil {
		return errZeroID
	}
	o.Present, o.ID = true, id
	return nil
}
