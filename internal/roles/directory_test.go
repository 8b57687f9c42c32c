package roles

import (
	"errors"
	"testing"
)

const (
	superAdmin = "0xroot"
	operator   = "0xoperator"
	maker      = "0xmanufacturer"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(superAdmin)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	return d
}

func TestNewDirectoryRequiresSuperAdmin(t *testing.T) {
	if _, err := NewDirectory("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAdminChain(t *testing.T) {
	if Admin(PlantOperatorAdmin) != SuperAdmin {
		t.Fatal("plant operator admin must answer to super admin")
	}
	for _, role := range []Role{Manufacturer, Laboratory, RegulatoryAuthority, CertificationOfficer} {
		if Admin(role) != PlantOperatorAdmin {
			t.Fatalf("%s must answer to plant operator admin", role)
		}
	}
	if Admin(SuperAdmin) != SuperAdmin {
		t.Fatal("super admin administers itself")
	}
}

func TestGrantRequiresAdminRole(t *testing.T) {
	d := newTestDirectory(t)

	// The super admin cannot grant Manufacturer directly: its admin is
	// PlantOperatorAdmin, which the super admin does not hold.
	if err := d.Grant(Manufacturer, maker, superAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := d.Grant(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("grant operator: %v", err)
	}
	if err := d.Grant(Manufacturer, maker, operator); err != nil {
		t.Fatalf("grant manufacturer: %v", err)
	}
	if !d.HasRole(Manufacturer, maker) {
		t.Fatal("manufacturer role not recorded")
	}
}

func TestGrantRevokeIdempotent(t *testing.T) {
	d := newTestDirectory(t)
	if err := d.Grant(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := d.Grant(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("second grant must be a no-op: %v", err)
	}
	if err := d.Revoke(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if d.HasRole(PlantOperatorAdmin, operator) {
		t.Fatal("role still present after revoke")
	}
	if err := d.Revoke(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("second revoke must be a no-op: %v", err)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	d := newTestDirectory(t)
	if err := d.Grant(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := d.Register(Laboratory, "0xlab", operator); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register(Laboratory, "0xlab", operator); !errors.Is(err, ErrRoleAlreadyAssigned) {
		t.Fatalf("expected ErrRoleAlreadyAssigned, got %v", err)
	}
}

func TestGrantValidation(t *testing.T) {
	d := newTestDirectory(t)
	if err := d.Grant(Role("auditor"), maker, superAdmin); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if err := d.Grant(PlantOperatorAdmin, "", superAdmin); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty account, got %v", err)
	}
	if err := d.Grant(PlantOperatorAdmin, operator, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty acting account, got %v", err)
	}
}

func TestHasAnyRole(t *testing.T) {
	d := newTestDirectory(t)
	if err := d.Grant(PlantOperatorAdmin, operator, superAdmin); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !d.HasAnyRole(operator, Manufacturer, PlantOperatorAdmin) {
		t.Fatal("expected operator to match")
	}
	if d.HasAnyRole(maker, Manufacturer, Laboratory) {
		t.Fatal("expected no match for unknown account")
	}
}

func TestParse(t *testing.T) {
	role, err := Parse(" Regulatory_Authority ")
	if err != nil || role != RegulatoryAuthority {
		t.Fatalf("unexpected parse result: %v, %v", role, err)
	}
	if _, err := Parse("bogus"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}
