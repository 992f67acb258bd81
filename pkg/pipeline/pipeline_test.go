package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georchestra/gateway/pkg/account"
	"github.com/georchestra/gateway/pkg/authzrules"
	"github.com/georchestra/gateway/pkg/errorpages"
	"github.com/georchestra/gateway/pkg/gatewayroute"
	"github.com/georchestra/gateway/pkg/model"
	"github.com/georchestra/gateway/pkg/resolver"
)

type noopDirectory struct{}

func (noopDirectory) FindByUsername(string) (*resolver.DirectoryUser, error) { return nil, nil }
func (noopDirectory) FindByEmail(string) (*resolver.DirectoryUser, error)    { return nil, nil }
func (noopDirectory) FindByExternalUID(string, string) (*resolver.DirectoryUser, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T, upstream string) *Coordinator {
	t.Helper()

	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/**"}, Anonymous: true},
		},
		Routes: []model.Route{
			{ID: "default", TargetURI: upstream, Predicates: []model.RoutePredicate{{Path: "/**"}}},
		},
		LoginURL: "/login",
	}

	authz, err := authzrules.NewEngine(cfg)
	require.NoError(t, err)

	routes, err := gatewayroute.Compile(cfg.Routes, nil)
	require.NoError(t, err)

	resolve, err := resolver.New(noopDirectory{}, account.New(nil, nil), nil, nil, false, "")
	require.NoError(t, err)

	errConv, err := errorpages.New(nil)
	require.NoError(t, err)

	return New(cfg, nil, "", nil, resolve, nil, authz, routes, errConv)
}

func TestForward_S1AnonymousGlobalRulePermitsAndForwards(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	co := newTestCoordinator(t, upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()

	co.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestForward_EchoesIncomingRequestID(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	co := newTestCoordinator(t, upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("X-Request-ID", "1234567890123456")
	rec := httptest.NewRecorder()

	co.Router().ServeHTTP(rec, req)

	assert.Equal(t, "1234567890123456", rec.Header().Get("X-Request-ID"))
}

func TestDenyAccess_AnonymousHTMLRedirectsToLogin(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/secure/**"}, AllowedRoles: []string{"ROLE_ADMIN"}},
		},
		Routes: []model.Route{
			{ID: "default", TargetURI: "http://upstream", Predicates: []model.RoutePredicate{{Path: "/**"}}},
		},
		LoginURL: "/login",
	}
	authz, err := authzrules.NewEngine(cfg)
	require.NoError(t, err)
	routes, err := gatewayroute.Compile(cfg.Routes, nil)
	require.NoError(t, err)
	resolve, err := resolver.New(noopDirectory{}, account.New(nil, nil), nil, nil, false, "")
	require.NoError(t, err)
	errConv, err := errorpages.New(nil)
	require.NoError(t, err)

	co := New(cfg, nil, "", nil, resolve, nil, authz, routes, errConv)

	req := httptest.NewRequest(http.MethodGet, "/secure/page", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	co.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestForward_LoginParamRedirectsAnonymousCaller(t *testing.T) {
	cfg := &model.GatewayConfig{
		GlobalAccessRules: []model.AccessRule{
			{InterceptPatterns: []string{"/**"}, Anonymous: true},
		},
		Routes: []model.Route{
			{
				ID:         "default",
				TargetURI:  "http://upstream",
				Predicates: []model.RoutePredicate{{Path: "/**"}},
				Filters:    []model.RouteFilter{{LoginParamRedirect: true}},
			},
		},
		LoginURL: "/login",
	}
	authz, err := authzrules.NewEngine(cfg)
	require.NoError(t, err)
	routes, err := gatewayroute.Compile(cfg.Routes, nil)
	require.NoError(t, err)
	resolve, err := resolver.New(noopDirectory{}, account.New(nil, nil), nil, nil, false, "")
	require.NoError(t, err)
	errConv, err := errorpages.New(nil)
	require.NoError(t, err)

	co := New(cfg, nil, "", nil, resolve, nil, authz, routes, errConv)

	req := httptest.NewRequest(http.MethodGet, "/anything?login", nil)
	rec := httptest.NewRecorder()

	co.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestWhoami_UnauthenticatedReturns401(t *testing.T) {
	co := newTestCoordinator(t, "http://upstream")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()

	co.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
