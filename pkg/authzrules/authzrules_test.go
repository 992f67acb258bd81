package authzrules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georchestra/gateway/pkg/model"
)

func TestEvaluate_S1AnonymousGlobalRuleAllows(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/**"}, Anonymous: true},
		},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	d := e.Evaluate("", "/svc/foo", model.Anonymous())
	assert.Equal(t, DecisionPermit, d)
}

func TestEvaluate_S5AnonymousDeniedOnRoleRequiredPath(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/admin/**"}, AllowedRoles: []string{"ADMIN"}},
		},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	d := e.Evaluate("", "/admin/ui", model.Anonymous())
	assert.Equal(t, DecisionDeny, d)
}

func TestEvaluate_ServiceRulesTakePrecedenceOverGlobal(t *testing.T) {
	cfg := &model.GatewayConfig{
		Services: map[string]*model.Service{
			"svc": {
				Target: "http://backend/",
				AccessRules: []model.AccessRule{
					{InterceptPatterns: []string{"/**"}, Anonymous: true},
				},
			},
		},
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/**"}, Forbidden: true},
		},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	d := e.Evaluate("http://backend/", "/foo", model.Anonymous())
	assert.Equal(t, DecisionPermit, d, "service rule should win over the conflicting global rule")
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/a/**"}, Anonymous: true},
			{InterceptPatterns: []string{"/**"}, Forbidden: true},
		},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.Equal(t, DecisionPermit, e.Evaluate("", "/a/b", model.Anonymous()))
	assert.Equal(t, DecisionDeny, e.Evaluate("", "/c", model.Anonymous()))
}

func TestEvaluate_RoleMatchTolerateMissingPrefix(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/admin/**"}, AllowedRoles: []string{"ADMIN"}},
		},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	user := &model.User{Roles: []string{"ROLE_ADMIN", "ROLE_USER"}}
	assert.Equal(t, DecisionPermit, e.Evaluate("", "/admin/ui", user))
}

func TestEvaluate_RequireAnyAuthenticatedWhenRolesEmpty(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/secure/**"}},
		},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.Equal(t, DecisionDeny, e.Evaluate("", "/secure/x", model.Anonymous()))
	assert.Equal(t, DecisionRequireAuthenticated, e.Evaluate("", "/secure/x", &model.User{Roles: []string{"ROLE_USER"}}))
}
