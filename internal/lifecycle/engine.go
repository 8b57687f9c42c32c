// Package lifecycle drives equipment through the certification workflow. The
// engine is the only component holding the gateway principal: every external
// call lands here first, gets authorized against the role directory using the
// forwarded caller identity, passes the state guards, and only then reaches
// the registry. One stream event is published per successful mutation.
package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"equicert.org/internal/obs"
	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
	"equicert.org/internal/stream"
)

var (
	ErrUnauthorized                  = errors.New("lifecycle: caller lacks required role")
	ErrInvalidInput                  = errors.New("lifecycle: invalid input")
	ErrActionNotAllowedInCurrentStep = errors.New("lifecycle: action not allowed in current step")
	ErrEquipmentAlreadyCertified     = errors.New("lifecycle: equipment already certified")
	ErrEquipmentDeprecated           = errors.New("lifecycle: equipment is deprecated")
	ErrEquipmentAlreadyDeprecated    = errors.New("lifecycle: equipment already deprecated")
	ErrEquipmentNotPending           = errors.New("lifecycle: equipment not awaiting review")
	ErrEquipmentNotUnderReview       = errors.New("lifecycle: equipment not under review")
)

// documentSubmitters are the roles allowed to attach documents.
var documentSubmitters = []roles.Role{
	roles.Manufacturer,
	roles.Laboratory,
	roles.PlantOperatorAdmin,
	roles.RegulatoryAuthority,
}

// Engine wires the role directory, the registry and the event stream behind
// the gateway principal. Mutating calls are serialized on a single mutex so a
// guard can never pass on state another call is about to overwrite.
type Engine struct {
	mu      sync.Mutex
	reg     *registry.Registry
	dir     *roles.Directory
	gateway string
	events  *stream.Stream
	now     func() time.Time
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine creates an engine acting as the given gateway principal.
func NewEngine(reg *registry.Registry, dir *roles.Directory, gateway string, events *stream.Stream, opts ...Option) *Engine {
	e := &Engine{
		reg:     reg,
		dir:     dir,
		gateway: gateway,
		events:  events,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) publish(kind string, entityID uint64, actor string, fields map[string]string) {
	obs.CountEvent(kind)
	if e.events == nil {
		return
	}
	e.events.Publish(stream.Event{
		Kind:      kind,
		EntityID:  entityID,
		Actor:     actor,
		Timestamp: e.now().UTC(),
		Fields:    fields,
	})
}

func (e *Engine) requireAnyRole(actingAs string, candidates ...roles.Role) error {
	if !e.dir.HasAnyRole(actingAs, candidates...) {
		return fmt.Errorf("%w: one of %v required", ErrUnauthorized, candidates)
	}
	return nil
}

// notCertifiedOrUnderReview blocks mid-review and post-certification changes
// for anyone below the privileged roles.
func (e *Engine) notCertifiedOrUnderReview(eq registry.Equipment, actingAs string) error {
	if eq.Step == registry.StepUnderReview && !e.dir.HasRole(roles.RegulatoryAuthority, actingAs) {
		return fmt.Errorf("%w: equipment %d is under review", ErrActionNotAllowedInCurrentStep, eq.ID)
	}
	if eq.Status == registry.StatusCertified &&
		!e.dir.HasAnyRole(actingAs, roles.RegulatoryAuthority, roles.PlantOperatorAdmin) {
		return fmt.Errorf("%w: equipment %d", ErrEquipmentAlreadyCertified, eq.ID)
	}
	return nil
}

func notDeprecated(eq registry.Equipment) error {
	if eq.Status == registry.StatusDeprecated {
		return fmt.Errorf("%w: equipment %d", ErrEquipmentDeprecated, eq.ID)
	}
	return nil
}

// RegisterPlant creates a plant on behalf of a plant operator admin.
func (e *Engine) RegisterPlant(actingAs, name, description, location string) (registry.Plant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.PlantOperatorAdmin); err != nil {
		return registry.Plant{}, err
	}
	p, err := e.reg.CreatePlant(e.gateway, actingAs, name, description, location)
	if err != nil {
		return registry.Plant{}, err
	}
	e.publish(stream.KindPlantCreated, p.ID, actingAs, map[string]string{"name": p.Name})
	return p, nil
}

// RegisterEquipment creates equipment under a plant. The ownership binding is
// minted to owner, or to the caller when owner is empty.
func (e *Engine) RegisterEquipment(actingAs, owner string, plantID uint64, name, description string) (registry.Equipment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.PlantOperatorAdmin, roles.Manufacturer); err != nil {
		return registry.Equipment{}, err
	}
	if strings.TrimSpace(owner) == "" {
		owner = actingAs
	}
	eq, err := e.reg.CreateEquipment(e.gateway, owner, plantID, name, description)
	if err != nil {
		return registry.Equipment{}, err
	}
	e.publish(stream.KindEquipmentCreated, eq.ID, actingAs, map[string]string{
		"plant_id": strconv.FormatUint(eq.PlantID, 10),
		"name":     eq.Name,
	})
	return eq, nil
}

// RegisterParticipant onboards an actor: the role registration and the actor
// record are created together. A duplicate role fails the whole call and no
// actor is recorded.
func (e *Engine) RegisterParticipant(actingAs, name, address string, role roles.Role, plantID uint64) (registry.Actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.PlantOperatorAdmin); err != nil {
		return registry.Actor{}, err
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(address) == "" {
		return registry.Actor{}, fmt.Errorf("%w: name and address are required", ErrInvalidInput)
	}
	if err := e.dir.Register(role, address, actingAs); err != nil {
		return registry.Actor{}, err
	}
	a, err := e.reg.CreateActor(e.gateway, name, address, role, plantID)
	if err != nil {
		// The role registration went through but the record did not; undo it
		// so onboarding stays all-or-nothing.
		_ = e.dir.Revoke(role, address, actingAs)
		return registry.Actor{}, err
	}
	e.publish(stream.KindActorRegistered, a.ID, actingAs, map[string]string{
		"address": a.Address,
		"role":    string(a.Role),
	})
	return a, nil
}

// GrantRole grants a role through the directory's admin chain.
func (e *Engine) GrantRole(role roles.Role, account, actingAs string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.dir.Grant(role, account, actingAs); err != nil {
		return err
	}
	e.publish(stream.KindRoleGranted, 0, actingAs, map[string]string{
		"role":    string(role),
		"account": account,
	})
	return nil
}

// RevokeRole revokes a role through the directory's admin chain.
func (e *Engine) RevokeRole(role roles.Role, account, actingAs string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.dir.Revoke(role, account, actingAs); err != nil {
		return err
	}
	e.publish(stream.KindRoleRevoked, 0, actingAs, map[string]string{
		"role":    string(role),
		"account": account,
	})
	return nil
}

// RegisterDocument attaches evidence to an equipment record. It never changes
// equipment state, but both state guards still apply.
func (e *Engine) RegisterDocument(actingAs string, equipmentID uint64, name, description string, docType registry.DocType, ipfsHash string) (registry.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, documentSubmitters...); err != nil {
		return registry.Document{}, err
	}
	eq, err := e.reg.Equipment(equipmentID)
	if err != nil {
		return registry.Document{}, err
	}
	if err := e.notCertifiedOrUnderReview(eq, actingAs); err != nil {
		return registry.Document{}, err
	}
	if err := notDeprecated(eq); err != nil {
		return registry.Document{}, err
	}
	d, err := e.reg.CreateDocument(e.gateway, actingAs, equipmentID, name, description, docType, ipfsHash)
	if err != nil {
		return registry.Document{}, err
	}
	e.publish(stream.KindDocumentSubmitted, d.ID, actingAs, map[string]string{
		"equipment_id": strconv.FormatUint(equipmentID, 10),
		"doc_type":     string(d.DocType),
	})
	return d, nil
}

// MarkReadyForReview moves equipment into the review queue.
func (e *Engine) MarkReadyForReview(actingAs string, equipmentID uint64) (registry.Equipment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.PlantOperatorAdmin); err != nil {
		return registry.Equipment{}, err
	}
	eq, err := e.reg.Equipment(equipmentID)
	if err != nil {
		return registry.Equipment{}, err
	}
	if err := e.notCertifiedOrUnderReview(eq, actingAs); err != nil {
		return registry.Equipment{}, err
	}
	if err := notDeprecated(eq); err != nil {
		return registry.Equipment{}, err
	}
	if eq.Status != registry.StatusRegistered && eq.Status != registry.StatusPending {
		return registry.Equipment{}, fmt.Errorf("%w: equipment %d has status %s", ErrEquipmentNotPending, equipmentID, eq.Status)
	}
	updated, err := e.reg.UpdateEquipmentStatus(e.gateway, equipmentID, registry.StatusPending, registry.StepReadyForReview)
	if err != nil {
		return registry.Equipment{}, err
	}
	e.publish(stream.KindReadyForReview, equipmentID, actingAs, nil)
	return updated, nil
}

// ReviewEquipment claims a ready equipment for regulatory review.
func (e *Engine) ReviewEquipment(actingAs string, equipmentID uint64) (registry.Equipment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.RegulatoryAuthority); err != nil {
		return registry.Equipment{}, err
	}
	eq, err := e.reg.Equipment(equipmentID)
	if err != nil {
		return registry.Equipment{}, err
	}
	if err := notDeprecated(eq); err != nil {
		return registry.Equipment{}, err
	}
	if eq.Step != registry.StepReadyForReview {
		return registry.Equipment{}, fmt.Errorf("%w: equipment %d is at step %s", ErrActionNotAllowedInCurrentStep, equipmentID, eq.Step)
	}
	updated, err := e.reg.UpdateEquipmentStatus(e.gateway, equipmentID, registry.StatusPending, registry.StepUnderReview)
	if err != nil {
		return registry.Equipment{}, err
	}
	e.publish(stream.KindUnderReview, equipmentID, actingAs, nil)
	return updated, nil
}

// FinalizeCertification resolves a review. Approval requires the final
// certification hash; rejection requires a reason and clears any hash.
func (e *Engine) FinalizeCertification(actingAs string, equipmentID uint64, approve bool, hash, reason string) (registry.Equipment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.RegulatoryAuthority); err != nil {
		return registry.Equipment{}, err
	}
	eq, err := e.reg.Equipment(equipmentID)
	if err != nil {
		return registry.Equipment{}, err
	}
	if err := notDeprecated(eq); err != nil {
		return registry.Equipment{}, err
	}
	if eq.Step != registry.StepUnderReview {
		return registry.Equipment{}, fmt.Errorf("%w: equipment %d is at step %s", ErrEquipmentNotUnderReview, equipmentID, eq.Step)
	}

	if approve {
		hash = strings.TrimSpace(hash)
		if hash == "" {
			return registry.Equipment{}, fmt.Errorf("%w: certification hash is required", ErrInvalidInput)
		}
		updated, err := e.reg.FinalizeEquipment(e.gateway, equipmentID, registry.StatusCertified, registry.StepCertified, hash, "")
		if err != nil {
			return registry.Equipment{}, err
		}
		e.publish(stream.KindCertified, equipmentID, actingAs, map[string]string{"hash": hash})
		return updated, nil
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return registry.Equipment{}, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	updated, err := e.reg.FinalizeEquipment(e.gateway, equipmentID, registry.StatusRejected, registry.StepRejected, "", reason)
	if err != nil {
		return registry.Equipment{}, err
	}
	e.publish(stream.KindRejected, equipmentID, actingAs, map[string]string{"reason": reason})
	return updated, nil
}

// DeprecateEquipment retires equipment permanently. The step is left where it
// was; the deprecated status blocks every further transition.
func (e *Engine) DeprecateEquipment(actingAs string, equipmentID uint64) (registry.Equipment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAnyRole(actingAs, roles.RegulatoryAuthority); err != nil {
		return registry.Equipment{}, err
	}
	eq, err := e.reg.Equipment(equipmentID)
	if err != nil {
		return registry.Equipment{}, err
	}
	if eq.Status == registry.StatusDeprecated {
		return registry.Equipment{}, fmt.Errorf("%w: equipment %d", ErrEquipmentAlreadyDeprecated, equipmentID)
	}
	updated, err := e.reg.UpdateEquipmentStatus(e.gateway, equipmentID, registry.StatusDeprecated, eq.Step)
	if err != nil {
		return registry.Equipment{}, err
	}
	e.publish(stream.KindDeprecated, equipmentID, actingAs, nil)
	return updated, nil
}
