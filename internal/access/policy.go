// Package access decides who may read a document. Visibility is a static
// (document type × role) matrix, with one override: the submitter of a
// document can always read it back regardless of role.
package access

import (
	"errors"
	"fmt"

	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
)

// ErrUnauthorizedDocumentAccess is returned when no held role and no
// submitter override grants visibility.
var ErrUnauthorizedDocumentAccess = errors.New("access: document not visible to caller")

// matrix maps document type to the roles allowed to view it. Regulatory
// authorities and plant operator admins see everything.
var matrix = map[registry.DocType]map[roles.Role]bool{
	registry.DocTypeCertification: {
		roles.PlantOperatorAdmin:   true,
		roles.Manufacturer:         true,
		roles.Laboratory:           true,
		roles.RegulatoryAuthority:  true,
		roles.CertificationOfficer: true,
	},
	registry.DocTypeLabReport: {
		roles.PlantOperatorAdmin:   true,
		roles.Laboratory:           true,
		roles.RegulatoryAuthority:  true,
		roles.CertificationOfficer: true,
	},
	registry.DocTypeTechFile: {
		roles.PlantOperatorAdmin:   true,
		roles.Manufacturer:         true,
		roles.RegulatoryAuthority:  true,
		roles.CertificationOfficer: true,
	},
	registry.DocTypeCompliance: {
		roles.PlantOperatorAdmin:  true,
		roles.RegulatoryAuthority: true,
	},
	registry.DocTypeRegulatoryReview: {
		roles.PlantOperatorAdmin:  true,
		roles.RegulatoryAuthority: true,
	},
}

// RoleDirectory is the slice of the role directory the policy needs.
type RoleDirectory interface {
	HasRole(role roles.Role, account string) bool
}

// DocumentSource resolves document ids to records.
type DocumentSource interface {
	Document(id uint64) (registry.Document, error)
}

// Policy answers document visibility questions against a role directory and a
// document source.
type Policy struct {
	dir  RoleDirectory
	docs DocumentSource
}

// NewPolicy creates a policy backed by dir and docs.
func NewPolicy(dir RoleDirectory, docs DocumentSource) *Policy {
	return &Policy{dir: dir, docs: docs}
}

// Visible reports whether the matrix grants role access to docType.
func Visible(docType registry.DocType, role roles.Role) bool {
	return matrix[docType][role]
}

// DecideRole resolves the single role under which viewer is judged for
// documents of docType: the first role in the fixed priority order that
// viewer holds. The bool is the matrix verdict for that role, and the verdict
// is final — a viewer whose highest-priority role is denied stays denied,
// lower-priority roles are never consulted.
func (p *Policy) DecideRole(docType registry.DocType, viewer string) (roles.Role, bool) {
	for _, role := range roles.ViewPriority {
		if p.dir.HasRole(role, viewer) {
			return role, Visible(docType, role)
		}
	}
	return "", false
}

// CanView reports whether viewer may read the document, either through the
// matrix or through the submitter override. Unused document ids fail with the
// source's not-found error.
func (p *Policy) CanView(documentID uint64, viewer string) (bool, error) {
	doc, err := p.docs.Document(documentID)
	if err != nil {
		return false, err
	}
	return p.allows(doc, viewer), nil
}

// GetIfAuthorized returns the document when viewer may read it, and
// ErrUnauthorizedDocumentAccess otherwise.
func (p *Policy) GetIfAuthorized(documentID uint64, viewer string) (registry.Document, error) {
	doc, err := p.docs.Document(documentID)
	if err != nil {
		return registry.Document{}, err
	}
	if !p.allows(doc, viewer) {
		return registry.Document{}, fmt.Errorf("%w: document %d", ErrUnauthorizedDocumentAccess, documentID)
	}
	return doc, nil
}

func (p *Policy) allows(doc registry.Document, viewer string) bool {
	if viewer != "" && viewer == doc.Submitter {
		return true
	}
	_, ok := p.DecideRole(doc.DocType, viewer)
	return ok
}
