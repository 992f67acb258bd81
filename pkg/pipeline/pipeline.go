// Package pipeline implements the Pipeline Coordinator (C10, spec §4.10):
// it wires every other component into the per-request execution order and
// exposes the gateway's inbound HTTP surface (spec §6).
//
// Routing is built on github.com/go-chi/chi/v5, matching the teacher's own
// mux choice (pkg/transport/proxy/router.go); request ids are random
// 16-digit numeric strings drawn from crypto/rand.
package pipeline

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/georchestra/gateway/pkg/account"
	"github.com/georchestra/gateway/pkg/authzrules"
	"github.com/georchestra/gateway/pkg/directory"
	"github.com/georchestra/gateway/pkg/errorpages"
	"github.com/georchestra/gateway/pkg/gatewaycontext"
	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/gatewayroute"
	"github.com/georchestra/gateway/pkg/headerproject"
	"github.com/georchestra/gateway/pkg/logger"
	"github.com/georchestra/gateway/pkg/model"
	"github.com/georchestra/gateway/pkg/oidcclient"
	"github.com/georchestra/gateway/pkg/preauth"
	"github.com/georchestra/gateway/pkg/resolver"
	"github.com/georchestra/gateway/pkg/session"
)

// idempotentMethods mirrors spec §4.7/§4.9's "idempotent" request set used
// for login-redirect and error-conversion eligibility.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Coordinator assembles C1-C9, C11, C12 into the request pipeline (C10).
type Coordinator struct {
	cfg          *model.GatewayConfig
	sessions     *session.Store
	directories  map[string]*directory.Client
	primaryLogin string // directory source used for POST /login bind
	oidc         *oidcclient.Client
	resolve      *resolver.Resolver
	accounts     *account.Manager
	authz        *authzrules.Engine
	routes       *gatewayroute.Router
	servicesByTarget map[string]*model.Service
	errConv      *errorpages.Converter
	loginURL     string
	logoutURL    string
}

// New builds the Pipeline Coordinator's router from its already-constructed
// collaborators.
func New(
	cfg *model.GatewayConfig,
	directories map[string]*directory.Client,
	primaryLogin string,
	oidc *oidcclient.Client,
	resolve *resolver.Resolver,
	accounts *account.Manager,
	authz *authzrules.Engine,
	routes *gatewayroute.Router,
	errConv *errorpages.Converter,
) *Coordinator {
	servicesByTarget := make(map[string]*model.Service, len(cfg.Services))
	for _, svc := range cfg.Services {
		servicesByTarget[svc.Target] = svc
	}

	loginURL := cfg.LoginURL
	if loginURL == "" {
		loginURL = "/login"
	}

	return &Coordinator{
		cfg:              cfg,
		sessions:         session.NewStore(),
		directories:      directories,
		primaryLogin:     primaryLogin,
		oidc:             oidc,
		resolve:          resolve,
		accounts:         accounts,
		authz:            authz,
		routes:           routes,
		servicesByTarget: servicesByTarget,
		errConv:          errConv,
		loginURL:         loginURL,
		logoutURL:        cfg.DefaultLogoutURL,
	}
}

// Router returns the http.Handler serving the full inbound surface of
// spec §6: explicit local endpoints plus the catch-all forwarded through
// C5-C9/C11.
func (co *Coordinator) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(co.requestIDMiddleware)

	r.Get("/login", co.loginPage)
	r.Post("/login", co.loginSubmit)
	r.Get("/logout", co.logout)
	r.Get("/login/oauth2/code/{registrationId}", co.oauthCallback)
	r.Get("/whoami", co.whoami)
	r.NotFound(co.forward)

	return r
}

// requestIDMiddleware implements spec §4.10 step 1: assign X-Request-ID if
// absent (a 16-digit numeric string) and echo it on the response; bind a
// diagnostic context, cleared when the handler returns (client-disconnect
// cancellation is handled by net/http itself cancelling r.Context()).
func (co *Coordinator) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newNumericRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := gatewaycontext.WithRequestID(r.Context(), id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logger.Debugw("request completed", "requestId", id, "path", r.URL.Path, "method", r.Method, "durationMs", time.Since(start).Milliseconds())
	})
}

func newNumericRequestID() string {
	var sb strings.Builder
	for i := 0; i < 16; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			sb.WriteByte('0')
			continue
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String()
}

// authenticate implements spec §4.10 step 2: pre-auth header -> existing
// session -> anonymous fallback. OIDC callback and directory form login
// establish sessions out-of-band (oauthCallback, loginSubmit); this is the
// per-request re-authentication check for routes other than those.
func (co *Coordinator) authenticate(r *http.Request) (*model.AuthToken, string, *model.User) {
	if tok, ok, err := preauth.Read(co.cfg.Security.PreAuth, r); err != nil {
		logger.Warnf("preauth read failed: %v", err)
	} else if ok {
		return tok, "preauth", nil
	}

	if entry := co.sessions.Get(r); entry != nil {
		return entry.Token, entry.AuthMethod, entry.User
	}

	return nil, "anonymous", model.Anonymous()
}

// forward implements spec §4.10 steps 2-8 for any request not matched by
// the explicit local endpoints.
func (co *Coordinator) forward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tok, method, cachedUser := co.authenticate(r)
	ctx = gatewaycontext.WithAuthMethod(ctx, method)

	user := cachedUser
	if user == nil {
		if tok == nil {
			user = model.Anonymous()
		} else {
			resolved, err := co.resolve.Resolve(tok)
			if err != nil {
				co.writeError(w, r, err)
				return
			}
			user = resolved
		}
	}
	ctx = gatewaycontext.WithAuthToken(ctx, tok)
	ctx = gatewaycontext.WithUser(ctx, user)
	r = r.WithContext(ctx)

	logger.Debugw("resolved request principal",
		"requestId", gatewaycontext.RequestID(ctx),
		"user", user.Username, "roles", user.Roles, "org", user.Organization, "authMethod", method)

	route, ok := co.routes.Match(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	r = r.WithContext(gatewaycontext.WithRouteID(r.Context(), route.ID()))

	if route.HasLoginParamRedirect() && user.IsAnonymous() && idempotentMethods[r.Method] && r.URL.Query().Has("login") {
		http.Redirect(w, r, co.loginURL, http.StatusFound)
		return
	}

	svc := co.servicesByTarget[route.TargetURI()]

	decision := co.authz.Evaluate(route.TargetURI(), r.URL.Path, user)
	if decision == authzrules.DecisionDeny {
		co.denyAccess(w, r, user)
		return
	}

	headerproject.StripInbound(r.Header)
	mappings := co.headerMappingsFor(svc)
	headerproject.Project(r.Header, user, nil, mappings, tok.IsExternal())

	if route.HasApplicationErrorFilter() {
		cw := errorpages.NewCapturingWriter(w)
		route.ServeHTTP(cw, r)
		if errorpages.ShouldConvert(cw.Status(), r.Method, r.Header.Get("Accept")) {
			co.errConv.Render(w, cw.Status())
			return
		}
		cw.Commit()
		return
	}

	route.ServeHTTP(w, r)
}

func (co *Coordinator) headerMappingsFor(svc *model.Service) model.HeaderMappings {
	if svc == nil {
		return co.cfg.DefaultHeaders
	}
	return svc.HeaderMappings.Effective(co.cfg.DefaultHeaders)
}

// denyAccess implements spec §4.7's final paragraph: 403 for authenticated
// users, a redirect to /login for anonymous idempotent HTML requests,
// otherwise 401.
func (co *Coordinator) denyAccess(w http.ResponseWriter, r *http.Request, user *model.User) {
	if !user.IsAnonymous() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if idempotentMethods[r.Method] && strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, co.loginURL, http.StatusFound)
		return
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (co *Coordinator) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := gatewayerrors.StatusFor(err)
	logger.Errorf("request %s failed: %v", gatewaycontext.RequestID(r.Context()), err)
	if co.errConv != nil && errorpages.ShouldConvert(status, r.Method, r.Header.Get("Accept")) {
		co.errConv.Render(w, status)
		return
	}
	http.Error(w, http.StatusText(status), status)
}

// loginPage renders the login form. Full templating/localization is a
// collaborator concern (spec §6: "render login page ... out of core");
// this emits a minimal functional form sufficient to drive POST /login.
func (co *Coordinator) loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	errParam := r.URL.Query().Get("error")
	banner := ""
	if errParam != "" {
		banner = "<p class=\"error\">Invalid credentials.</p>"
	}
	_, _ = w.Write([]byte(`<!DOCTYPE html><html><body>` + banner + `
<form method="post" action="/login">
<input type="text" name="username"><input type="password" name="password">
<button type="submit">Sign in</button>
</form></body></html>`))
}

// loginSubmit implements directory-bind login (spec §4.1, §6 POST /login).
func (co *Coordinator) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, co.loginURL+"?error", http.StatusFound)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	dir, ok := co.directories[co.primaryLogin]
	if !ok {
		co.writeError(w, r, gatewayerrors.New(gatewayerrors.KindInvalidConfiguration, "no directory configured for form login"))
		return
	}

	bindTok, err := dir.Bind(username, password)
	if err != nil {
		logger.Warnf("directory bind failed for %s: %v", username, err)
		http.Redirect(w, r, co.loginURL+"?error", http.StatusFound)
		return
	}

	tok := &model.AuthToken{Directory: bindTok}
	user, err := co.resolve.Resolve(tok)
	if err != nil {
		co.writeError(w, r, err)
		return
	}

	co.sessions.Create(w, r, &session.Entry{Token: tok, User: user, AuthMethod: "directory"})
	http.Redirect(w, r, "/", http.StatusFound)
}

// logout implements spec §6 GET /logout.
func (co *Coordinator) logout(w http.ResponseWriter, r *http.Request) {
	entry := co.sessions.Get(r)
	co.sessions.Destroy(w, r)

	if entry != nil && entry.Token != nil && entry.Token.OIDC != nil {
		if endSessionURL, ok := co.oidc.EndSessionURL(entry.Token.OIDC.RegistrationID, co.logoutURL); ok {
			http.Redirect(w, r, endSessionURL, http.StatusFound)
			return
		}
	}
	http.Redirect(w, r, co.logoutURL, http.StatusFound)
}

// oauthCallback implements spec §6 GET /login/oauth2/code/{registrationId}.
func (co *Coordinator) oauthCallback(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationId")
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, co.loginURL+"?error", http.StatusFound)
		return
	}

	oidcTok, err := co.oidc.Exchange(r.Context(), registrationID, code)
	if err != nil {
		logger.Warnf("oidc exchange failed for %s: %v", registrationID, err)
		http.Redirect(w, r, co.loginURL+"?error", http.StatusFound)
		return
	}

	tok := &model.AuthToken{OIDC: oidcTok}
	user, err := co.resolve.Resolve(tok)
	if err != nil {
		co.writeError(w, r, err)
		return
	}

	co.sessions.Create(w, r, &session.Entry{Token: tok, User: user, AuthMethod: "oidc:" + registrationID})
	http.Redirect(w, r, "/", http.StatusFound)
}

// whoami implements spec §6 GET /whoami.
func (co *Coordinator) whoami(w http.ResponseWriter, r *http.Request) {
	tok, _, user := co.authenticate(r)
	if user == nil && tok != nil {
		resolved, err := co.resolve.Resolve(tok)
		if err != nil {
			co.writeError(w, r, err)
			return
		}
		user = resolved
	}
	if user == nil || user.IsAnonymous() {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSONUser(w, user)
}

// whoamiView is the JSON shape returned by GET /whoami (spec §6).
type whoamiView struct {
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName"`
	Organization string   `json:"organization"`
	Roles        []string `json:"roles"`
}

func writeJSONUser(w http.ResponseWriter, user *model.User) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(whoamiView{
		Username: user.Username, Email: user.Email, FirstName: user.FirstName,
		LastName: user.LastName, Organization: user.Organization, Roles: user.Roles,
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}
