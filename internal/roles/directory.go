package roles

import (
	"fmt"
	"strings"
	"sync"
)

// Directory holds role membership. Grants and revokes are serialized under a
// single writer lock; membership checks take a consistent read snapshot.
type Directory struct {
	mu      sync.RWMutex
	members map[Role]map[string]struct{}
}

// NewDirectory creates a directory seeded with one SuperAdmin account, the
// root of the admin chain.
func NewDirectory(superAdmin string) (*Directory, error) {
	superAdmin = strings.TrimSpace(superAdmin)
	if superAdmin == "" {
		return nil, fmt.Errorf("%w: super admin account is required", ErrInvalidInput)
	}
	d := &Directory{members: make(map[Role]map[string]struct{})}
	d.members[SuperAdmin] = map[string]struct{}{superAdmin: {}}
	return d, nil
}

// Grant adds account to role. Fails with ErrUnauthorized unless actingAs holds
// the admin role of role. Adding an existing member is a no-op.
func (d *Directory) Grant(role Role, account, actingAs string) error {
	account, err := d.authorize(role, account, actingAs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[role]
	if !ok {
		set = make(map[string]struct{})
		d.members[role] = set
	}
	set[account] = struct{}{}
	return nil
}

// Revoke removes account from role under the same authorization as Grant.
// Removing a non-member is a no-op.
func (d *Directory) Revoke(role Role, account, actingAs string) error {
	account, err := d.authorize(role, account, actingAs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.members[role]; ok {
		delete(set, account)
	}
	return nil
}

// Register is the onboarding variant of Grant: it fails with
// ErrRoleAlreadyAssigned when the account already holds the role.
func (d *Directory) Register(role Role, account, actingAs string) error {
	account, err := d.authorize(role, account, actingAs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[role]
	if ok {
		if _, exists := set[account]; exists {
			return fmt.Errorf("%w: %s already holds %s", ErrRoleAlreadyAssigned, account, role)
		}
	} else {
		set = make(map[string]struct{})
		d.members[role] = set
	}
	set[account] = struct{}{}
	return nil
}

// HasRole reports whether account holds role.
func (d *Directory) HasRole(role Role, account string) bool {
	account = strings.TrimSpace(account)
	if account == "" {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.members[role][account]
	return ok
}

// HasAnyRole reports whether account holds at least one of the given roles.
func (d *Directory) HasAnyRole(account string, candidates ...Role) bool {
	for _, role := range candidates {
		if d.HasRole(role, account) {
			return true
		}
	}
	return false
}

func (d *Directory) authorize(role Role, account, actingAs string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return "", fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	actingAs = strings.TrimSpace(actingAs)
	if actingAs == "" {
		return "", fmt.Errorf("%w: acting account is required", ErrInvalidInput)
	}
	if !d.HasRole(Admin(role), actingAs) {
		return "", fmt.Errorf("%w: %s required to manage %s", ErrUnauthorized, Admin(role), role)
	}
	return account, nil
}
