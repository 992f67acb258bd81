// Package oidcclient implements the OIDC/OAuth2 Client (C2, spec §4.2):
// the authorization-code flow against any number of registered providers,
// id-token and userinfo retrieval, and end-session URL resolution.
//
// Grounded on the teacher's pkg/auth/remote/handler.go (OAuth flow
// orchestration, token persistence wrapper) and pkg/auth/oidc/discovery.go
// (discovery shape); github.com/coreos/go-oidc/v3/oidc is adopted (as the
// rest of the example pack does) for standards-correct id-token
// verification, the one piece the teacher's access-token-only validator
// doesn't need. golang.org/x/oauth2 drives the authorization-code exchange,
// matching the teacher's own usage.
package oidcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/logger"
	"github.com/georchestra/gateway/pkg/model"
)

// Registration is one provider's resolved runtime state: its discovered
// OIDC provider, OAuth2 config, and verifier.
type Registration struct {
	ID       string
	cfg      model.OIDCProviderConfig
	provider *oidc.Provider
	oauth2   oauth2.Config
	verifier *oidc.IDTokenVerifier
	http     *http.Client
}

// Client manages the set of registered OIDC providers (C2).
type Client struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
}

// New constructs an empty Client; call Register for each configured provider.
func New() *Client {
	return &Client{registrations: make(map[string]*Registration)}
}

// Register performs discovery for one provider and stores its runtime
// state. redirectURL is this gateway's own callback URL for this
// registration (spec §6: GET /login/oauth2/code/{registrationId}).
func (c *Client) Register(ctx context.Context, id string, cfg model.OIDCProviderConfig, redirectURL string) error {
	httpClient := httpClientFor(cfg)
	ctx = oidc.ClientContext(ctx, httpClient)

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURI)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "discover "+id, err)
	}

	reg := &Registration{
		ID:       id,
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		http:     httpClient,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     provider.Endpoint(),
		},
	}

	c.mu.Lock()
	c.registrations[id] = reg
	c.mu.Unlock()
	return nil
}

func httpClientFor(cfg model.OIDCProviderConfig) *http.Client {
	if cfg.ProxyHost == "" {
		return http.DefaultClient
	}
	proxyURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", cfg.ProxyHost, cfg.ProxyPort)}
	if cfg.ProxyUsername != "" {
		proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
	}
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
}

func (c *Client) registration(id string) (*Registration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.registrations[id]
	if !ok {
		return nil, gatewayerrors.New(gatewayerrors.KindInvalidConfiguration, "unknown OIDC registration "+id)
	}
	return reg, nil
}

// AuthCodeURL returns the authorization endpoint URL to redirect the
// browser to, for the named registration.
func (c *Client) AuthCodeURL(id, state string, opts ...oauth2.AuthCodeOption) (string, error) {
	reg, err := c.registration(id)
	if err != nil {
		return "", err
	}
	return reg.oauth2.AuthCodeURL(state, opts...), nil
}

// Exchange completes the authorization-code flow: exchanges code for
// tokens, verifies the id-token, and retrieves userinfo, returning an OIDC
// authentication token (spec §4.2).
func (c *Client) Exchange(ctx context.Context, id, code string) (*model.OIDCToken, error) {
	reg, err := c.registration(id)
	if err != nil {
		return nil, err
	}
	ctx = oidc.ClientContext(ctx, reg.http)

	oauth2Token, err := reg.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "token exchange", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, gatewayerrors.New(gatewayerrors.KindAuthenticationFailed, "token response missing id_token")
	}
	idToken, err := reg.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "verify id_token", err)
	}

	var idClaims map[string]any
	if err := idToken.Claims(&idClaims); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "decode id_token claims", err)
	}

	userInfoClaims, err := c.userInfo(ctx, reg, oauth2Token)
	if err != nil {
		// Userinfo failure is AuthenticationFailed per spec §4.2; the
		// id-token alone is insufficient to proceed.
		return nil, err
	}

	return &model.OIDCToken{
		RegistrationID: id,
		IDTokenClaims:  idClaims,
		UserInfoClaims: userInfoClaims,
	}, nil
}

// userInfo retrieves the userinfo endpoint response and decodes it as
// claims, handling the application/jwt content type specially (spec §4.2).
func (c *Client) userInfo(ctx context.Context, reg *Registration, token *oauth2.Token) (map[string]any, error) {
	userInfo, err := reg.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err == nil {
		var claims map[string]any
		if err := userInfo.Claims(&claims); err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "decode userinfo claims", err)
		}
		return claims, nil
	}

	// go-oidc's UserInfo call fails to parse a raw application/jwt
	// response as JSON; fetch and decode it ourselves in that case.
	return c.rawJWTUserInfo(ctx, reg, token)
}

func (c *Client) rawJWTUserInfo(ctx context.Context, reg *Registration, token *oauth2.Token) (map[string]any, error) {
	endpoint, err := userInfoEndpoint(reg.provider)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "userinfo endpoint", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := reg.http.Do(req)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "userinfo request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "read userinfo response", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/jwt") {
		// No signature verification beyond the id-token's is required
		// here: the trusted issuer relationship is already established
		// (spec §4.2).
		parser := jwt.NewParser()
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(strings.TrimSpace(string(body)), claims); err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "parse application/jwt userinfo", err)
		}
		return map[string]any(claims), nil
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindAuthenticationFailed, "decode userinfo JSON", err)
	}
	return claims, nil
}

func userInfoEndpoint(provider *oidc.Provider) (string, error) {
	var claims struct {
		UserInfoEndpoint string `json:"userinfo_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return "", err
	}
	if claims.UserInfoEndpoint == "" {
		return "", fmt.Errorf("provider metadata has no userinfo_endpoint")
	}
	return claims.UserInfoEndpoint, nil
}

// EndSessionURL constructs the provider's end-session URL with a
// post_logout_redirect_uri, or returns ok=false if the provider has no
// endSessionUri configured (logout then proceeds locally, spec §4.2, §6).
func (c *Client) EndSessionURL(id, postLogoutRedirectURI string) (endSessionURL string, ok bool) {
	reg, err := c.registration(id)
	if err != nil || reg.cfg.EndSessionURI == "" {
		return "", false
	}
	u, err := url.Parse(reg.cfg.EndSessionURI)
	if err != nil {
		logger.Warnf("malformed endSessionUri for %s: %v", id, err)
		return "", false
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	u.RawQuery = q.Encode()
	return u.String(), true
}
