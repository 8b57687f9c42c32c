package registry

import (
	"time"

	"equicert.org/internal/roles"
)

// Status is the coarse lifecycle outcome of an equipment record.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusPending    Status = "pending"
	StatusCertified  Status = "certified"
	StatusRejected   Status = "rejected"
	StatusDeprecated Status = "deprecated"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusPending, StatusCertified, StatusRejected, StatusDeprecated:
		return true
	}
	return false
}

// Step is the fine-grained workflow position of an equipment record. Status
// and step are orthogonal facets of the same state; guards reference them
// independently.
type Step string

const (
	StepRegistered       Step = "registered"
	StepDocumentsPending Step = "documents_pending"
	StepReadyForReview   Step = "ready_for_review"
	StepUnderReview      Step = "under_review"
	StepCertified        Step = "certified"
	StepRejected         Step = "rejected"
)

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	switch s {
	case StepRegistered, StepDocumentsPending, StepReadyForReview, StepUnderReview, StepCertified, StepRejected:
		return true
	}
	return false
}

// DocType classifies a supporting document.
type DocType string

const (
	DocTypeCertification    DocType = "certification"
	DocTypeLabReport        DocType = "lab_report"
	DocTypeTechFile         DocType = "tech_file"
	DocTypeCompliance       DocType = "compliance"
	DocTypeRegulatoryReview DocType = "regulatory_review"
)

// DocTypes lists every document type, in matrix order.
var DocTypes = []DocType{
	DocTypeCertification,
	DocTypeLabReport,
	DocTypeTechFile,
	DocTypeCompliance,
	DocTypeRegulatoryReview,
}

// Valid reports whether d is a known document type.
func (d DocType) Valid() bool {
	switch d {
	case DocTypeCertification, DocTypeLabReport, DocTypeTechFile, DocTypeCompliance, DocTypeRegulatoryReview:
		return true
	}
	return false
}

// DocumentSubmitted is the status stamped on every document at creation. The
// core tracks no further document-level workflow.
const DocumentSubmitted = "submitted"

// Plant is an industrial site. Fields are immutable after creation.
type Plant struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registered_at"`
	RegisteredBy string    `json:"registered_by"`
	IsActive     bool      `json:"is_active"`
}

// Equipment is a certifiable machine installed at a plant. Status, step, hash
// and rejection reason mutate in place; everything else is append-only.
type Equipment struct {
	ID                     uint64    `json:"id"`
	PlantID                uint64    `json:"plant_id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	Status                 Status    `json:"status"`
	Step                   Step      `json:"step"`
	RegisteredAt           time.Time `json:"registered_at"`
	PendingAt              time.Time `json:"pending_at,omitzero"`
	CertifiedAt            time.Time `json:"certified_at,omitzero"`
	RejectedAt             time.Time `json:"rejected_at,omitzero"`
	DeprecatedAt           time.Time `json:"deprecated_at,omitzero"`
	FinalCertificationHash string    `json:"final_certification_hash,omitempty"`
	RejectionReason        string    `json:"rejection_reason,omitempty"`
}

// Document references externally stored evidence by opaque content identifier.
// The registry never fetches or interprets the content.
type Document struct {
	ID          uint64    `json:"id"`
	EquipmentID uint64    `json:"equipment_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DocType     DocType   `json:"doc_type"`
	Status      string    `json:"status"`
	Submitter   string    `json:"submitter"`
	SubmittedAt time.Time `json:"submitted_at"`
	IPFSHash    string    `json:"ipfs_hash"`
}

// Actor is a descriptive participant record. It is distinct from role
// membership: creating an actor grants nothing, and granting a role creates
// no actor.
type Actor struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name"`
	Address      string     `json:"address"`
	Role         roles.Role `json:"role"`
	RegisteredAt time.Time  `json:"registered_at"`
	PlantID      uint64     `json:"plant_id"`
}
