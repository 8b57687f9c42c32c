// Package registry owns the canonical plant, equipment, document and actor
// records. Identifiers are allocated from dedicated monotonic counters and
// never reused; reverse indexes keep plant→equipment, plant→actor and
// equipment→document lookups cheap. Every mutator is gated on the single
// configured gateway principal — role authorization happens upstream, in the
// lifecycle engine, before a call ever reaches this package.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"equicert.org/internal/ownership"
	"equicert.org/internal/roles"
)

var (
	ErrUnauthorized      = errors.New("registry: caller is not the gateway")
	ErrInvalidInput      = errors.New("registry: invalid input")
	ErrNotConfigured     = errors.New("registry: gateway not configured")
	ErrAlreadyConfigured = errors.New("registry: gateway already configured")
	ErrPlantNotFound     = errors.New("registry: plant not found")
	ErrEquipmentNotFound = errors.New("registry: equipment not found")
	ErrDocumentNotFound  = errors.New("registry: document not found")
	ErrActorNotFound     = errors.New("registry: actor not found")
)

// Registry is the single-writer record store. All mutating calls are fully
// serialized; reads observe a consistent snapshot.
type Registry struct {
	mu sync.RWMutex

	gateway    string
	configured bool

	plants    map[uint64]*Plant
	equipment map[uint64]*Equipment
	documents map[uint64]*Document
	actors    map[uint64]*Actor

	nextPlantID     uint64
	nextEquipmentID uint64
	nextDocumentID  uint64
	nextActorID     uint64

	plantIDs []uint64
	actorIDs []uint64

	plantEquipment     map[uint64][]uint64
	plantActors        map[uint64][]uint64
	equipmentDocuments map[uint64][]uint64

	owners *ownership.Ledger
	now    func() time.Time
}

// Option configures Registry behavior.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		plants:             make(map[uint64]*Plant),
		equipment:          make(map[uint64]*Equipment),
		documents:          make(map[uint64]*Document),
		actors:             make(map[uint64]*Actor),
		plantEquipment:     make(map[uint64][]uint64),
		plantActors:        make(map[uint64][]uint64),
		equipmentDocuments: make(map[uint64][]uint64),
		owners:             ownership.NewLedger(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetGateway establishes the standing gateway permission. One-time and
// irreversible: a second call fails with ErrAlreadyConfigured.
func (r *Registry) SetGateway(principal string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return fmt.Errorf("%w: gateway principal is required", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.configured {
		return ErrAlreadyConfigured
	}
	r.gateway = principal
	r.configured = true
	return nil
}

// Gateway returns the configured gateway principal, if any.
func (r *Registry) Gateway() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gateway, r.configured
}

// Ownership exposes the soulbound ownership ledger.
func (r *Registry) Ownership() *ownership.Ledger {
	return r.owners
}

// requireGateway must be called with at least a read lock held.
func (r *Registry) requireGateway(caller string) error {
	if !r.configured {
		return ErrNotConfigured
	}
	if caller != r.gateway {
		return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
	}
	return nil
}

// CreatePlant registers a plant. registeredBy is the Gateway-forwarded
// original caller.
func (r *Registry) CreatePlant(caller, registeredBy, name, description, location string) (Plant, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	location = strings.TrimSpace(location)
	registeredBy = strings.TrimSpace(registeredBy)
	if name == "" || description == "" || location == "" {
		return Plant{}, fmt.Errorf("%w: name, description and location are required", ErrInvalidInput)
	}
	if registeredBy == "" {
		return Plant{}, fmt.Errorf("%w: registering caller is required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return Plant{}, err
	}

	id := r.nextPlantID
	r.nextPlantID++
	p := &Plant{
		ID:           id,
		Name:         name,
		Description:  description,
		Location:     location,
		RegisteredAt: r.now().UTC(),
		RegisteredBy: registeredBy,
		IsActive:     true,
	}
	r.plants[id] = p
	r.plantIDs = append(r.plantIDs, id)
	return *p, nil
}

// CreateEquipment registers equipment under an existing plant and mints the
// soulbound ownership binding to owner.
func (r *Registry) CreateEquipment(caller, owner string, plantID uint64, name, description string) (Equipment, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" || description == "" {
		return Equipment{}, fmt.Errorf("%w: name and description are required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return Equipment{}, err
	}
	if _, ok := r.plants[plantID]; !ok {
		return Equipment{}, fmt.Errorf("%w: plant %d", ErrPlantNotFound, plantID)
	}

	id := r.nextEquipmentID
	if err := r.owners.Mint(id, owner); err != nil {
		return Equipment{}, err
	}
	r.nextEquipmentID++
	e := &Equipment{
		ID:           id,
		PlantID:      plantID,
		Name:         name,
		Description:  description,
		Status:       StatusRegistered,
		Step:         StepRegistered,
		RegisteredAt: r.now().UTC(),
	}
	r.equipment[id] = e
	r.plantEquipment[plantID] = append(r.plantEquipment[plantID], id)
	return *e, nil
}

// CreateDocument appends a document to an existing equipment record. The
// submitter is the Gateway-forwarded original caller.
func (r *Registry) CreateDocument(caller, submitter string, equipmentID uint64, name, description string, docType DocType, ipfsHash string) (Document, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	ipfsHash = strings.TrimSpace(ipfsHash)
	submitter = strings.TrimSpace(submitter)
	if name == "" || description == "" || ipfsHash == "" || submitter == "" {
		return Document{}, fmt.Errorf("%w: name, description, submitter and ipfs hash are required", ErrInvalidInput)
	}
	if !docType.Valid() {
		return Document{}, fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, docType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return Document{}, err
	}
	if _, ok := r.equipment[equipmentID]; !ok {
		return Document{}, fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}

	id := r.nextDocumentID
	r.nextDocumentID++
	d := &Document{
		ID:          id,
		EquipmentID: equipmentID,
		Name:        name,
		Description: description,
		DocType:     docType,
		Status:      DocumentSubmitted,
		Submitter:   submitter,
		SubmittedAt: r.now().UTC(),
		IPFSHash:    ipfsHash,
	}
	r.documents[id] = d
	r.equipmentDocuments[equipmentID] = append(r.equipmentDocuments[equipmentID], id)
	return *d, nil
}

// CreateActor records a participant. A zero or non-existent plantID is
// accepted and means the actor is not plant-scoped; the plant→actor index is
// only maintained when the plant exists.
func (r *Registry) CreateActor(caller, name, address string, role roles.Role, plantID uint64) (Actor, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if name == "" || address == "" {
		return Actor{}, fmt.Errorf("%w: name and address are required", ErrInvalidInput)
	}
	if !role.Valid() {
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return Actor{}, err
	}

	id := r.nextActorID
	r.nextActorID++
	a := &Actor{
		ID:           id,
		Name:         name,
		Address:      address,
		Role:         role,
		RegisteredAt: r.now().UTC(),
		PlantID:      plantID,
	}
	r.actors[id] = a
	r.actorIDs = append(r.actorIDs, id)
	if _, ok := r.plants[plantID]; ok {
		r.plantActors[plantID] = append(r.plantActors[plantID], id)
	}
	return *a, nil
}

// UpdateEquipmentStatus overwrites both state fields and stamps the timestamp
// matching the new status. Transitioning into Certified clears any previous
// rejection reason. This is the single place equipment state is written; role
// authorization happened upstream.
func (r *Registry) UpdateEquipmentStatus(caller string, equipmentID uint64, status Status, step Step) (Equipment, error) {
	if !status.Valid() || !step.Valid() {
		return Equipment{}, fmt.Errorf("%w: unknown status %q or step %q", ErrInvalidInput, status, step)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return Equipment{}, err
	}
	e, ok := r.equipment[equipmentID]
	if !ok {
		return Equipment{}, fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}

	r.applyStatus(e, status, step)
	return *e, nil
}

// FinalizeEquipment applies a review outcome in one step: the integrity hash,
// the rejection reason and both state fields change under a single lock, so
// readers never observe them out of sync.
func (r *Registry) FinalizeEquipment(caller string, equipmentID uint64, status Status, step Step, hash, reason string) (Equipment, error) {
	if !status.Valid() || !step.Valid() {
		return Equipment{}, fmt.Errorf("%w: unknown status %q or step %q", ErrInvalidInput, status, step)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return Equipment{}, err
	}
	e, ok := r.equipment[equipmentID]
	if !ok {
		return Equipment{}, fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}

	e.FinalCertificationHash = strings.TrimSpace(hash)
	e.RejectionReason = strings.TrimSpace(reason)
	r.applyStatus(e, status, step)
	return *e, nil
}

// applyStatus must be called with the write lock held.
func (r *Registry) applyStatus(e *Equipment, status Status, step Step) {
	e.Status = status
	e.Step = step
	now := r.now().UTC()
	switch status {
	case StatusPending:
		e.PendingAt = now
	case StatusCertified:
		e.CertifiedAt = now
		e.RejectionReason = ""
	case StatusRejected:
		e.RejectedAt = now
	case StatusDeprecated:
		e.DeprecatedAt = now
	}
}

// SetFinalCertificationHash records (or clears) the integrity anchor.
func (r *Registry) SetFinalCertificationHash(caller string, equipmentID uint64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return err
	}
	e, ok := r.equipment[equipmentID]
	if !ok {
		return fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}
	e.FinalCertificationHash = strings.TrimSpace(hash)
	return nil
}

// SetRejectionReason records the reason an equipment was rejected.
func (r *Registry) SetRejectionReason(caller string, equipmentID uint64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireGateway(caller); err != nil {
		return err
	}
	e, ok := r.equipment[equipmentID]
	if !ok {
		return fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}
	e.RejectionReason = strings.TrimSpace(reason)
	return nil
}

// Plant returns a copy of the plant record.
func (r *Registry) Plant(id uint64) (Plant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plants[id]
	if !ok {
		return Plant{}, fmt.Errorf("%w: plant %d", ErrPlantNotFound, id)
	}
	return *p, nil
}

// Equipment returns a copy of the equipment record.
func (r *Registry) Equipment(id uint64) (Equipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.equipment[id]
	if !ok {
		return Equipment{}, fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, id)
	}
	return *e, nil
}

// Document returns a copy of the document record.
func (r *Registry) Document(id uint64) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %d", ErrDocumentNotFound, id)
	}
	return *d, nil
}

// Actor returns a copy of the actor record.
func (r *Registry) Actor(id uint64) (Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	if !ok {
		return Actor{}, fmt.Errorf("%w: actor %d", ErrActorNotFound, id)
	}
	return *a, nil
}

// Plants lists all plants in registration order.
func (r *Registry) Plants() []Plant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plant, 0, len(r.plantIDs))
	for _, id := range r.plantIDs {
		out = append(out, *r.plants[id])
	}
	return out
}

// Actors lists all actors in registration order.
func (r *Registry) Actors() []Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Actor, 0, len(r.actorIDs))
	for _, id := range r.actorIDs {
		out = append(out, *r.actors[id])
	}
	return out
}

// PlantEquipment returns the equipment ids registered under a plant, in
// registration order.
func (r *Registry) PlantEquipment(plantID uint64) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.plants[plantID]; !ok {
		return nil, fmt.Errorf("%w: plant %d", ErrPlantNotFound, plantID)
	}
	return append([]uint64(nil), r.plantEquipment[plantID]...), nil
}

// PlantActors returns the actor ids scoped to a plant, in registration order.
func (r *Registry) PlantActors(plantID uint64) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.plants[plantID]; !ok {
		return nil, fmt.Errorf("%w: plant %d", ErrPlantNotFound, plantID)
	}
	return append([]uint64(nil), r.plantActors[plantID]...), nil
}

// EquipmentDocuments returns the document ids attached to an equipment, in
// submission order.
func (r *Registry) EquipmentDocuments(equipmentID uint64) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.equipment[equipmentID]; !ok {
		return nil, fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}
	return append([]uint64(nil), r.equipmentDocuments[equipmentID]...), nil
}

// EquipmentOwner returns the soulbound owner of an equipment record.
func (r *Registry) EquipmentOwner(equipmentID uint64) (string, error) {
	r.mu.RLock()
	if _, ok := r.equipment[equipmentID]; !ok {
		r.mu.RUnlock()
		return "", fmt.Errorf("%w: equipment %d", ErrEquipmentNotFound, equipmentID)
	}
	r.mu.RUnlock()
	return r.owners.OwnerOf(equipmentID)
}
