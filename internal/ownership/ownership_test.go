package ownership

import (
	"errors"
	"testing"
)

func TestMintAndOwnerOf(t *testing.T) {
	l := NewLedger()
	if err := l.Mint(0, "0xowner"); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	owner, err := l.OwnerOf(0)
	if err != nil || owner != "0xowner" {
		t.Fatalf("unexpected owner: %q, %v", owner, err)
	}
}

func TestMintRejectsDuplicateAndEmptyOwner(t *testing.T) {
	l := NewLedger()
	if err := l.Mint(1, " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := l.Mint(1, "0xowner"); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := l.Mint(1, "0xother"); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestBindingIsSoulbound(t *testing.T) {
	l := NewLedger()
	if err := l.Mint(2, "0xowner"); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := l.Transfer(2, "0xother"); !errors.Is(err, ErrSoulbound) {
		t.Fatalf("expected ErrSoulbound on transfer, got %v", err)
	}
	if err := l.Approve(2, "0xdelegate"); !errors.Is(err, ErrSoulbound) {
		t.Fatalf("expected ErrSoulbound on approve, got %v", err)
	}
	if err := l.Burn(2); !errors.Is(err, ErrSoulbound) {
		t.Fatalf("expected ErrSoulbound on burn, got %v", err)
	}

	// The original owner survives any number of refused attempts.
	owner, err := l.OwnerOf(2)
	if err != nil || owner != "0xowner" {
		t.Fatalf("owner changed after refused operations: %q, %v", owner, err)
	}
}

func TestOperationsOnUnknownEquipment(t *testing.T) {
	l := NewLedger()
	if _, err := l.OwnerOf(9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := l.Transfer(9, "0xother"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := l.Burn(9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
