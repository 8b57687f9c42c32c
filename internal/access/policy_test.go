package access

import (
	"errors"
	"fmt"
	"testing"

	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
)

// stubDirectory satisfies RoleDirectory with a plain set.
type stubDirectory struct {
	held map[roles.Role]map[string]bool
}

func (s *stubDirectory) HasRole(role roles.Role, account string) bool {
	return s.held[role][account]
}

func holding(grants map[string][]roles.Role) *stubDirectory {
	d := &stubDirectory{held: make(map[roles.Role]map[string]bool)}
	for account, rs := range grants {
		for _, role := range rs {
			if d.held[role] == nil {
				d.held[role] = make(map[string]bool)
			}
			d.held[role][account] = true
		}
	}
	return d
}

// stubDocs serves documents from a map.
type stubDocs map[uint64]registry.Document

func (s stubDocs) Document(id uint64) (registry.Document, error) {
	doc, ok := s[id]
	if !ok {
		return registry.Document{}, fmt.Errorf("%w: document %d", registry.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func TestMatrix(t *testing.T) {
	all := []registry.DocType{
		registry.DocTypeCertification,
		registry.DocTypeLabReport,
		registry.DocTypeTechFile,
		registry.DocTypeCompliance,
		registry.DocTypeRegulatoryReview,
	}
	visibleTo := map[roles.Role][]registry.DocType{
		roles.PlantOperatorAdmin:  all,
		roles.RegulatoryAuthority: all,
		roles.CertificationOfficer: {
			registry.DocTypeCertification, registry.DocTypeLabReport, registry.DocTypeTechFile,
		},
		roles.Manufacturer: {registry.DocTypeCertification, registry.DocTypeTechFile},
		roles.Laboratory:   {registry.DocTypeCertification, registry.DocTypeLabReport},
	}
	for role, allowed := range visibleTo {
		allowedSet := make(map[registry.DocType]bool)
		for _, dt := range allowed {
			allowedSet[dt] = true
		}
		for _, dt := range all {
			if got := Visible(dt, role); got != allowedSet[dt] {
				t.Errorf("Visible(%s, %s) = %v, want %v", dt, role, got, allowedSet[dt])
			}
		}
	}
}

func TestSubmitterOverride(t *testing.T) {
	// The manufacturer's role does not admit lab reports, but it submitted
	// this one.
	p := NewPolicy(
		holding(map[string][]roles.Role{"0xmaker": {roles.Manufacturer}}),
		stubDocs{3: {ID: 3, DocType: registry.DocTypeLabReport, Submitter: "0xmaker"}},
	)

	ok, err := p.CanView(3, "0xmaker")
	if err != nil || !ok {
		t.Fatalf("submitter must always read its own document: %v, %v", ok, err)
	}
	ok, err = p.CanView(3, "0xother")
	if err != nil || ok {
		t.Fatalf("unrelated account must not read the document: %v, %v", ok, err)
	}
}

func TestCanViewUnknownDocument(t *testing.T) {
	p := NewPolicy(holding(nil), stubDocs{})
	if _, err := p.CanView(9, "0xanyone"); !errors.Is(err, registry.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDecideRolePriority(t *testing.T) {
	// An account that is both a laboratory and a certification officer is
	// judged as a laboratory: it comes first in the priority order.
	p := NewPolicy(
		holding(map[string][]roles.Role{"0xdual": {roles.Laboratory, roles.CertificationOfficer}}),
		stubDocs{},
	)

	role, ok := p.DecideRole(registry.DocTypeLabReport, "0xdual")
	if !ok || role != roles.Laboratory {
		t.Fatalf("unexpected decision: %v, %v", role, ok)
	}

	// For a tech file the laboratory role does not qualify, and that verdict
	// is final: the certification officer role is never consulted.
	role, ok = p.DecideRole(registry.DocTypeTechFile, "0xdual")
	if ok {
		t.Fatalf("tech file visible despite laboratory denial: %v", role)
	}
	if role != roles.Laboratory {
		t.Fatalf("judged role = %v, want laboratory", role)
	}
}

func TestHighestRoleVerdictIsFinal(t *testing.T) {
	// Manufacturer outranks regulatory authority in the priority order and is
	// denied compliance documents, so the viewer is denied even though its
	// authority role would see everything.
	p := NewPolicy(
		holding(map[string][]roles.Role{"0xboth": {roles.Manufacturer, roles.RegulatoryAuthority}}),
		stubDocs{7: {ID: 7, DocType: registry.DocTypeCompliance, Submitter: "0xoperator"}},
	)

	ok, err := p.CanView(7, "0xboth")
	if err != nil {
		t.Fatalf("CanView: %v", err)
	}
	if ok {
		t.Fatal("compliance document visible to an account judged as manufacturer")
	}
	if _, err := p.GetIfAuthorized(7, "0xboth"); !errors.Is(err, ErrUnauthorizedDocumentAccess) {
		t.Fatalf("expected ErrUnauthorizedDocumentAccess, got %v", err)
	}
}

func TestGetIfAuthorized(t *testing.T) {
	doc := registry.Document{ID: 5, DocType: registry.DocTypeCompliance, Submitter: "0xoperator"}
	p := NewPolicy(
		holding(map[string][]roles.Role{"0xauthority": {roles.RegulatoryAuthority}}),
		stubDocs{5: doc},
	)

	got, err := p.GetIfAuthorized(5, "0xauthority")
	if err != nil || got.ID != doc.ID {
		t.Fatalf("unexpected result: %+v, %v", got, err)
	}
	if _, err := p.GetIfAuthorized(5, "0xstranger"); !errors.Is(err, ErrUnauthorizedDocumentAccess) {
		t.Fatalf("expected ErrUnauthorizedDocumentAccess, got %v", err)
	}
	if _, err := p.GetIfAuthorized(6, "0xauthority"); !errors.Is(err, registry.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
