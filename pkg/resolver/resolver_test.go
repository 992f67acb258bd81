package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georchestra/gateway/pkg/account"
	"github.com/georchestra/gateway/pkg/model"
)

type fakeDir struct {
	byUsername map[string]*DirectoryUser
	byEmail    map[string]*DirectoryUser
}

func (f *fakeDir) FindByUsername(username string) (*DirectoryUser, error) {
	return f.byUsername[username], nil
}
func (f *fakeDir) FindByEmail(email string) (*DirectoryUser, error) {
	return f.byEmail[email], nil
}
func (f *fakeDir) FindByExternalUID(string, string) (*DirectoryUser, error) {
	return nil, nil
}

type fakeAccountDir struct{}

func (fakeAccountDir) FindByUsername(string) (*account.DirectoryEntry, error) { return nil, nil }
func (fakeAccountDir) CreateUser(*model.User, string) error                   { return nil }
func (fakeAccountDir) EnsureOrg(*model.User, string) error                    { return nil }
func (fakeAccountDir) EnsureRoles([]string, string) error                     { return nil }
func (fakeAccountDir) RollbackUser(string)                                    {}
func (fakeAccountDir) DNForUsername(u string) string                         { return "uid=" + u }

func TestResolve_S2DirectoryLogin(t *testing.T) {
	dir := &fakeDir{byUsername: map[string]*DirectoryUser{
		"alice": {Username: "alice", Roles: []string{"ROLE_USER", "ROLE_ADMINISTRATOR"}, Email: "alice@x"},
	}}
	accounts := account.New(fakeAccountDir{}, nil)
	r, err := New(dir, accounts, nil, nil, false, "")
	require.NoError(t, err)

	user, err := r.Resolve(&model.AuthToken{Directory: &model.DirectoryBindToken{UserDN: "uid=alice,ou=users,dc=x"}})
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username)
	assert.Contains(t, user.Roles, "ROLE_USER")
	assert.Contains(t, user.Roles, "ROLE_ADMINISTRATOR")
}

func TestResolve_RoleMappingIsAdditive(t *testing.T) {
	dir := &fakeDir{byUsername: map[string]*DirectoryUser{
		"alice": {Username: "alice", Roles: []string{"ROLE_USER"}},
	}}
	accounts := account.New(fakeAccountDir{}, nil)
	r, err := New(dir, accounts, nil, []model.RoleMapping{
		{Pattern: "ROLE_USER", AdditionalRoles: []string{"ROLE_EXTRA"}},
	}, false, "")
	require.NoError(t, err)

	user, err := r.Resolve(&model.AuthToken{Directory: &model.DirectoryBindToken{UserDN: "uid=alice,ou=users,dc=x"}})
	require.NoError(t, err)

	assert.Contains(t, user.Roles, "ROLE_USER")
	assert.Contains(t, user.Roles, "ROLE_EXTRA")
}

func TestResolve_CanonicalizationInvariant(t *testing.T) {
	dir := &fakeDir{byUsername: map[string]*DirectoryUser{
		"bob": {Username: "bob", Roles: []string{"ADMIN"}},
	}}
	accounts := account.New(fakeAccountDir{}, nil)
	r, err := New(dir, accounts, nil, nil, false, "")
	require.NoError(t, err)

	user, err := r.Resolve(&model.AuthToken{Directory: &model.DirectoryBindToken{UserDN: "uid=bob,ou=users,dc=x"}})
	require.NoError(t, err)

	assert.Contains(t, user.Roles, "ROLE_USER")
	for _, role := range user.Roles {
		assert.Equal(t, 1, countPrefix(role, "ROLE_"))
	}
}

func countPrefix(s, prefix string) int {
	count := 0
	for len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		count++
		s = s[len(prefix):]
	}
	return count
}
