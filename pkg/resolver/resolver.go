// Package resolver implements the User Resolver (C5, spec §4.5): given any
// Authentication Token, it produces one canonical User, applying
// find-or-create, organization reconciliation, role-mapping, and
// canonicalization.
//
// Pure orchestration over the C1/C4/C6 interfaces; it mirrors the shape of
// the teacher's auth.Identity (pkg/auth/identity.go) for the canonical
// record, but contributes no new third-party dependency of its own.
package resolver

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/georchestra/gateway/pkg/account"
	"github.com/georchestra/gateway/pkg/claims"
	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/model"
)

// Directory is the subset of C1 the resolver needs directly (lookups by
// username/email/external uid); mutations go through the Account Manager.
type Directory interface {
	FindByUsername(username string) (*DirectoryUser, error)
	FindByEmail(email string) (*DirectoryUser, error)
	FindByExternalUID(provider, uid string) (*DirectoryUser, error)
}

// DirectoryUser is the subset of a directory entry the resolver reads.
type DirectoryUser struct {
	Username        string
	FirstName       string
	LastName        string
	Email           string
	Organization    string
	ExternalProvider string
	ExternalUID     string
	Roles           []string
	PasswordWarn    bool
	RemainingDays   string
}

// Resolver is the User Resolver (C5).
type Resolver struct {
	dir         Directory
	accounts    *account.Manager
	providers   map[string]model.OIDCProviderConfig
	roleMappings []compiledRoleMapping
	autoProvision bool
	defaultOrg  string
}

type compiledRoleMapping struct {
	pattern glob.Glob
	roles   []string
}

// New constructs a Resolver. providers maps OIDC registration id to its
// configuration (needed for the searchEmail flag and provider claim
// mapping); autoProvision corresponds to
// security.createNonExistingUsersInLDAP (spec §4.5 step 2, §6).
func New(dir Directory, accounts *account.Manager, providers map[string]model.OIDCProviderConfig, roleMappings []model.RoleMapping, autoProvision bool, defaultOrg string) (*Resolver, error) {
	compiled := make([]compiledRoleMapping, 0, len(roleMappings))
	for _, rm := range roleMappings {
		g, err := glob.Compile(rm.Pattern)
		if err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "role mapping pattern "+rm.Pattern, err)
		}
		compiled = append(compiled, compiledRoleMapping{pattern: g, roles: rm.AdditionalRoles})
	}
	return &Resolver{
		dir:           dir,
		accounts:      accounts,
		providers:     providers,
		roleMappings:  compiled,
		autoProvision: autoProvision,
		defaultOrg:    defaultOrg,
	}, nil
}

// Resolve implements spec §4.5 steps 1-6.
func (r *Resolver) Resolve(tok *model.AuthToken) (*model.User, error) {
	mapped, err := r.mapUser(tok)
	if err != nil {
		return nil, err
	}

	existing, err := r.findExisting(tok, mapped)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		mapped.ID = existing.Username
		mapped.Organization = coalesce(mapped.Organization, existing.Organization)
		mapped.DirectoryWarn = existing.PasswordWarn
		mapped.DirectoryRemainingDays = existing.RemainingDays
		if len(mapped.Roles) == 0 {
			mapped.Roles = existing.Roles
		}
	} else if r.autoProvision {
		if _, err := r.accounts.GetOrCreate(mapped, r.defaultOrg); err != nil {
			return nil, err
		}
	}

	if r.autoProvision && mapped.ExternalOrgID != "" {
		if err := r.accounts.ReconcileOrg(mapped); err != nil {
			return nil, err
		}
	}

	mapped.Roles = r.applyRoleMappings(mapped.Roles)
	mapped.Roles = model.CanonicalizeRoles(mapped.Roles)

	return mapped, nil
}

// mapUser implements spec §4.5 step 1: extract a mapped user from the token.
func (r *Resolver) mapUser(tok *model.AuthToken) (*model.User, error) {
	switch {
	case tok.Directory != nil:
		du, err := r.dir.FindByUsername(usernameFromDN(tok.Directory.UserDN))
		if err != nil {
			return nil, err
		}
		if du == nil {
			return nil, gatewayerrors.New(gatewayerrors.KindInvalidCredentials, "bound user vanished")
		}
		return &model.User{
			Username:               du.Username,
			FirstName:              du.FirstName,
			LastName:               du.LastName,
			Email:                  du.Email,
			Organization:           du.Organization,
			ExternalProvider:       du.ExternalProvider,
			ExternalUID:            du.ExternalUID,
			Roles:                  du.Roles,
			DirectoryWarn:          du.PasswordWarn,
			DirectoryRemainingDays: du.RemainingDays,
		}, nil

	case tok.OIDC != nil:
		provider := r.providers[tok.OIDC.RegistrationID]
		ext, err := claims.Extract(provider, tok.OIDC)
		if err != nil {
			return nil, err
		}
		return &model.User{
			ID:               ext.ID,
			Username:         ext.Username,
			Email:            ext.Email,
			FirstName:        ext.FirstName,
			LastName:         ext.LastName,
			TelephoneNumber:  ext.TelephoneNumber,
			PostalAddress:    ext.PostalAddress,
			Organization:     ext.Organization,
			ExternalProvider: tok.OIDC.RegistrationID,
			ExternalUID:      ext.ID,
			ExternalOrgID:    ext.OrganizationUID,
			Roles:            ext.Roles,
		}, nil

	case tok.PreAuth != nil:
		h := tok.PreAuth.Headers
		var roles []string
		if r := h["roles"]; r != "" {
			roles = strings.Split(r, ";")
		}
		return &model.User{
			Username:         h["username"],
			Email:            h["email"],
			FirstName:        h["firstname"],
			LastName:         h["lastname"],
			Organization:     h["org"],
			ExternalProvider: h["provider"],
			ExternalUID:      h["provider-id"],
			Roles:            roles,
		}, nil

	default:
		return nil, gatewayerrors.New(gatewayerrors.KindAuthenticationFailed, "empty authentication token")
	}
}

// findExisting implements spec §4.5 step 2's lookup-key priority.
func (r *Resolver) findExisting(tok *model.AuthToken, mapped *model.User) (*DirectoryUser, error) {
	if tok.OIDC != nil {
		provider := r.providers[tok.OIDC.RegistrationID]
		if provider.SearchEmail {
			if mapped.Email == "" {
				return nil, nil
			}
			return r.dir.FindByEmail(mapped.Email)
		}
		return r.dir.FindByExternalUID(tok.OIDC.RegistrationID, mapped.ExternalUID)
	}
	return r.dir.FindByUsername(mapped.Username)
}

// applyRoleMappings implements spec §4.5 step 4: additive, deduplicated,
// first-seen order preserved (spec §8 invariant 6).
func (r *Resolver) applyRoleMappings(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := append([]string{}, roles...)
	for _, role := range roles {
		seen[role] = true
	}
	for _, rm := range r.roleMappings {
		matched := false
		for _, role := range roles {
			if rm.pattern.Match(role) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for _, add := range rm.roles {
			if !seen[add] {
				seen[add] = true
				out = append(out, add)
			}
		}
	}
	return out
}

func usernameFromDN(dn string) string {
	// "uid=alice,ou=users,dc=example" -> "alice"
	if i := strings.Index(dn, "="); i >= 0 {
		rest := dn[i+1:]
		if j := strings.Index(rest, ","); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	return dn
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
