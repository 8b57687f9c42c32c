// Package integrity re-checks certification anchors. Verification compares a
// caller-supplied hash against the stored final certification hash and never
// mutates any record; every check leaves an audit trace.
package integrity

import (
	"context"
	"errors"
	"fmt"

	"equicert.org/internal/audit"
	"equicert.org/internal/obs"
	"equicert.org/internal/registry"
	"equicert.org/internal/stream"
)

// ErrActionNotAllowed is returned when the equipment has no settled outcome
// to verify against.
var ErrActionNotAllowed = errors.New("integrity: equipment has no final certification state")

// EquipmentSource resolves equipment ids to records.
type EquipmentSource interface {
	Equipment(id uint64) (registry.Equipment, error)
}

// Verifier checks certification hashes against the registry.
type Verifier struct {
	reg    EquipmentSource
	events *stream.Stream
}

// NewVerifier creates a verifier over reg, publishing check events to events.
func NewVerifier(reg EquipmentSource, events *stream.Stream) *Verifier {
	return &Verifier{reg: reg, events: events}
}

// Verify reports whether candidate matches the stored final certification
// hash. Only certified or deprecated equipment carries a settled outcome; any
// other status fails with ErrActionNotAllowed.
func (v *Verifier) Verify(equipmentID uint64, candidate string) (bool, error) {
	eq, err := v.reg.Equipment(equipmentID)
	if err != nil {
		return false, err
	}
	if eq.Status != registry.StatusCertified && eq.Status != registry.StatusDeprecated {
		return false, fmt.Errorf("%w: equipment %d has status %s", ErrActionNotAllowed, equipmentID, eq.Status)
	}
	return eq.FinalCertificationHash == candidate, nil
}

// CheckAndLog verifies and records the check: one audit line and one stream
// event carrying the verifier identity and the outcome. Storage is untouched.
func (v *Verifier) CheckAndLog(ctx context.Context, verifier string, equipmentID uint64, candidate string) (bool, error) {
	ok, err := v.Verify(equipmentID, candidate)
	if err != nil {
		return false, err
	}
	_ = audit.LogEvent(ctx, "integrity.checked", map[string]any{
		"equipment_id": equipmentID,
		"verifier":     verifier,
		"match":        ok,
	})
	obs.CountEvent(stream.KindIntegrityChecked)
	if v.events != nil {
		v.events.Publish(stream.Event{
			Kind:     stream.KindIntegrityChecked,
			EntityID: equipmentID,
			Actor:    verifier,
			Fields:   map[string]string{"match": fmt.Sprintf("%t", ok)},
		})
	}
	return ok, nil
}
