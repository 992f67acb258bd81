package account

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/model"
)

type fakeDirectory struct {
	mu          sync.Mutex
	users       map[string]bool
	createCalls int
	orgFails    bool
	rolesFails  bool
	rolledBack  []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]bool{}}
}

func (f *fakeDirectory) FindByUsername(username string) (*DirectoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.users[username] {
		return &DirectoryEntry{DN: f.DNForUsername(username)}, nil
	}
	return nil, nil
}

func (f *fakeDirectory) CreateUser(u *model.User, defaultOrg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.users[u.Username] {
		return gatewayerrors.New(gatewayerrors.KindDuplicateUsername, u.Username)
	}
	f.users[u.Username] = true
	return nil
}

func (f *fakeDirectory) EnsureOrg(u *model.User, userDN string) error {
	if f.orgFails {
		return assertErr
	}
	return nil
}

func (f *fakeDirectory) EnsureRoles(roles []string, userDN string) error {
	if f.rolesFails {
		return assertErr
	}
	return nil
}

func (f *fakeDirectory) RollbackUser(userDN string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolledBack = append(f.rolledBack, userDN)
}

func (f *fakeDirectory) DNForUsername(username string) string {
	return "uid=" + username + ",ou=users,dc=test"
}

var assertErr = gatewayerrors.New(gatewayerrors.KindInvalidConfiguration, "boom")

func TestGetOrCreate_CreatesNewUser(t *testing.T) {
	dir := newFakeDirectory()
	m := New(dir, nil)

	created, err := m.GetOrCreate(&model.User{Username: "alice", Roles: []string{"ROLE_USER"}}, "defaultOrg")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, dir.createCalls)
}

func TestGetOrCreate_ReturnsExistingWithoutCreating(t *testing.T) {
	dir := newFakeDirectory()
	dir.users["alice"] = true
	m := New(dir, nil)

	created, err := m.GetOrCreate(&model.User{Username: "alice"}, "defaultOrg")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 0, dir.createCalls)
}

func TestGetOrCreate_RollsBackOnOrgFailure(t *testing.T) {
	dir := newFakeDirectory()
	dir.orgFails = true
	m := New(dir, nil)

	_, err := m.GetOrCreate(&model.User{Username: "bob"}, "")
	require.Error(t, err)
	assert.True(t, gatewayerrors.Is(err, gatewayerrors.KindOrgProvisioningFailed))
	assert.Len(t, dir.rolledBack, 1)
}

func TestGetOrCreate_RollsBackOnRoleFailure(t *testing.T) {
	dir := newFakeDirectory()
	dir.rolesFails = true
	m := New(dir, nil)

	_, err := m.GetOrCreate(&model.User{Username: "carol"}, "")
	require.Error(t, err)
	assert.True(t, gatewayerrors.Is(err, gatewayerrors.KindRoleProvisioningFailed))
	assert.Len(t, dir.rolledBack, 1)
}

func TestGetOrCreate_ConcurrentSameUsernameCreatesOnce(t *testing.T) {
	dir := newFakeDirectory()
	m := New(dir, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.GetOrCreate(&model.User{Username: "dave", Roles: []string{"ROLE_USER"}}, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dir.createCalls)
}
