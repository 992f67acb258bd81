// Package account implements the Account Manager (C6, spec §4.6): a
// thread-safe get-or-create of users and organizations in the directory,
// with rollback on partial failure.
//
// Per spec §9's redesign note ("inheritance in account managers"), this is
// one struct holding a single sync.RWMutex plus a Directory interface for
// storage-specific operations, rather than an abstract-plus-concrete class
// pair. The interface has one directory-backed implementation
// (pkg/directory.Client) and a mockable fake for tests, grounded on the
// teacher's interface-based injection in pkg/auth/remote/handler.go
// (TokenPersister/secrets.Provider).
package account

import (
	"sync"

	"github.com/georchestra/gateway/pkg/events"
	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/model"
)

// Directory is the storage-specific interface the Account Manager drives.
// pkg/directory.Client is its sole production implementation.
type Directory interface {
	FindByUsername(username string) (*DirectoryEntry, error)
	CreateUser(u *model.User, defaultOrg string) error
	EnsureOrg(u *model.User, userDN string) error
	EnsureRoles(roles []string, userDN string) error
	RollbackUser(userDN string)
	DNForUsername(username string) string
}

// DirectoryEntry is the subset of a directory record the Account Manager
// needs to decide whether a user already exists.
type DirectoryEntry struct {
	DN string
}

// Manager is the Account Manager (C6). All mutating operations take the
// write lock; queries take the read lock (spec §4.1 concurrency note,
// §4.6, §5).
type Manager struct {
	mu  sync.RWMutex
	dir Directory
	ev  *events.Emitter
}

// New constructs a Manager over the given Directory and Event Emitter.
func New(dir Directory, ev *events.Emitter) *Manager {
	return &Manager{dir: dir, ev: ev}
}

// GetOrCreate returns the existing directory entry for mapped.Username, or
// creates it under the write lock following the sequence in spec §4.6:
//  1. Insert user entry. On DuplicateEmail/DuplicateUsername, surface as
//     typed errors without rollback.
//  2. Ensure organization. On failure, delete the user and surface
//     OrgProvisioningFailed.
//  3. Ensure roles. On failure, delete the user and surface
//     RoleProvisioningFailed.
//
// A UserCreated event (C12) is emitted only after all three steps succeed.
func (m *Manager) GetOrCreate(mapped *model.User, defaultOrg string) (created bool, err error) {
	if existing, err := m.find(mapped.Username); err != nil {
		return false, err
	} else if existing != nil {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock: another goroutine may have created
	// this username while we waited (spec §8 invariant 3: no duplicate
	// insertion is ever attempted twice concurrently for the same username).
	if existing, err := m.dir.FindByUsername(mapped.Username); err != nil {
		return false, err
	} else if existing != nil {
		return false, nil
	}

	if err := m.dir.CreateUser(mapped, defaultOrg); err != nil {
		return false, err
	}

	userDN := m.dir.DNForUsername(mapped.Username)

	if err := m.dir.EnsureOrg(mapped, userDN); err != nil {
		m.dir.RollbackUser(userDN)
		return false, gatewayerrors.Wrap(gatewayerrors.KindOrgProvisioningFailed, mapped.Username, err)
	}

	if err := m.dir.EnsureRoles(mapped.Roles, userDN); err != nil {
		m.dir.RollbackUser(userDN)
		return false, gatewayerrors.Wrap(gatewayerrors.KindRoleProvisioningFailed, mapped.Username, err)
	}

	if m.ev != nil {
		m.ev.EmitUserCreated(events.UserCreated{
			UID:          userDN,
			FullName:     mapped.FirstName + " " + mapped.LastName,
			LocalUID:     mapped.Username,
			Email:        mapped.Email,
			Organization: mapped.Organization,
			ProviderName: mapped.ExternalProvider,
			ProviderUID:  mapped.ExternalUID,
		})
	}

	return true, nil
}

// ReconcileOrg re-links mapped to its provider-indicated organization if it
// differs from the user's current one (spec §4.5 step 3, §4.6). It takes
// the write lock, as it mutates directory membership.
func (m *Manager) ReconcileOrg(mapped *model.User) error {
	if mapped.ExternalOrgID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	userDN := m.dir.DNForUsername(mapped.Username)
	return m.dir.EnsureOrg(mapped, userDN)
}

func (m *Manager) find(username string) (*DirectoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dir.FindByUsername(username)
}
