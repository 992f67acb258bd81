// Package claims implements the Claims Extractor (C4, spec §4.4): a
// two-level JSON-path policy that turns OIDC id-token/userinfo claims into
// canonical user fields and roles.
//
// JSON-path evaluation is done with github.com/tidwall/gjson (a direct
// teacher dependency used elsewhere for JSON traversal); role normalization
// uses golang.org/x/text/unicode/norm and golang.org/x/text/runes for NFC
// normalization and combining-mark stripping.
package claims

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/model"
)

var invalidUsernameChar = regexp.MustCompile(`[^a-z0-9_-]`)
var normalizeDropChar = regexp.MustCompile(`[^A-Za-z0-9_]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// Extracted holds the fields C4 contributes to a mapped user, before C5's
// find-or-create and role-mapping steps run.
type Extracted struct {
	ID              string
	Username        string
	Email           string
	FirstName       string
	LastName        string
	TelephoneNumber string
	PostalAddress   string
	Organization    string
	OrganizationUID string
	Roles           []string
}

// Extract applies the standard OIDC mapping, then the general mapping, then
// the provider-specific mapping (each overriding the previous only on
// non-empty extraction), and finally canonicalizes the username (spec
// §4.4). The returned error is non-nil (an InvalidConfiguration error,
// reported once per call, spec §4.4 final paragraph) if any claim or
// JSON-path evaluated to a non-string, non-null value; the extracted
// fields are still returned alongside it.
func Extract(provider model.OIDCProviderConfig, tok *model.OIDCToken) (Extracted, error) {
	merged := tok.MergedClaims()
	doc, err := json.Marshal(merged)
	if err != nil {
		return Extracted{}, gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "marshal claims", err)
	}
	root := gjson.ParseBytes(doc)

	var ext Extracted
	var invalidPath string

	str := func(key string) string {
		v, ok := merged[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			invalidPath = key
			return ""
		}
		return s
	}

	// Standard OIDC claim mapping (spec §4.4 first bullet).
	ext.ID = str("sub")
	ext.Username = str("preferred_username")
	if ext.Username == "" {
		ext.Username = ext.ID
	}
	ext.FirstName = str("given_name")
	ext.LastName = str("family_name")
	ext.Email = str("email")
	ext.TelephoneNumber = str("phone_number")
	ext.PostalAddress = firstNonEmpty(root, []string{"address.formatted"})

	// General, then provider-specific, non-standard mapping.
	applyMapping(&ext, root, provider.GeneralMapping, &invalidPath)
	applyMapping(&ext, root, provider.ProviderClaims, &invalidPath)

	// Username canonicalization (spec §4.4 final bullet):
	// "<providerRegistrationId>_<username>", lowercased, non-slug chars -> "_".
	canonical := strings.ToLower(provider.RegistrationID + "_" + ext.Username)
	ext.Username = invalidUsernameChar.ReplaceAllString(canonical, "_")

	// Role extraction (spec §4.4 second-to-last paragraph).
	roles := extractRoles(root, provider.GeneralMapping.Roles)
	providerRoles := extractRoles(root, provider.ProviderClaims.Roles)
	if len(providerRoles) > 0 {
		roles = providerRoles
	}
	roleCfg := provider.ProviderClaims.Roles
	if len(providerRoles) == 0 {
		roleCfg = provider.GeneralMapping.Roles
	}
	ext.Roles = normalizeRoles(roles, roleCfg)

	if invalidPath != "" {
		return ext, gatewayerrors.New(gatewayerrors.KindInvalidConfiguration,
			"claim \""+invalidPath+"\" is a non-string, non-null scalar")
	}
	return ext, nil
}

func applyMapping(ext *Extracted, root gjson.Result, m model.ClaimMappingSet, invalidPath *string) {
	if v := firstNonEmptyChecked(root, m.ID.Path, invalidPath); v != "" {
		ext.ID = v
	}
	if v := firstNonEmptyChecked(root, m.Email.Path, invalidPath); v != "" {
		ext.Email = v
	}
	if v := firstNonEmptyChecked(root, m.GivenName.Path, invalidPath); v != "" {
		ext.FirstName = v
	}
	if v := firstNonEmptyChecked(root, m.FamilyName.Path, invalidPath); v != "" {
		ext.LastName = v
	}
	if v := firstNonEmptyChecked(root, m.Organization.Path, invalidPath); v != "" {
		ext.Organization = v
	}
	if v := firstNonEmptyChecked(root, m.OrganizationUID.Path, invalidPath); v != "" {
		ext.OrganizationUID = v
	}
}

// toGjsonPath translates the spec's JSON-path-style expressions (e.g.
// "$.usual_name", "$.groups[*]") into gjson's own dot-path syntax.
func toGjsonPath(p string) string {
	p = strings.TrimPrefix(p, "$.")
	p = strings.TrimPrefix(p, "$")
	p = strings.ReplaceAll(p, "[*]", "")
	return p
}

// firstNonEmpty evaluates each JSON path in order, returning the first
// non-empty string result. Absent/null/non-matching paths yield no
// contribution (spec §4.4).
func firstNonEmpty(root gjson.Result, paths []string) string {
	return firstNonEmptyChecked(root, paths, nil)
}

func firstNonEmptyChecked(root gjson.Result, paths []string, invalidPath *string) string {
	for _, p := range paths {
		res := root.Get(toGjsonPath(p))
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		if res.Type != gjson.String {
			if invalidPath != nil && *invalidPath == "" {
				*invalidPath = p
			}
			continue
		}
		if res.Str != "" {
			return res.Str
		}
	}
	return ""
}

func extractRoles(root gjson.Result, cfg model.RoleClaimMapping) []string {
	var roles []string
	for _, p := range cfg.Path {
		res := root.Get(toGjsonPath(p))
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		if res.IsArray() {
			for _, item := range res.Array() {
				if item.Type == gjson.String && item.Str != "" {
					roles = append(roles, item.Str)
				}
			}
		} else if res.Type == gjson.String && res.Str != "" {
			roles = append(roles, res.Str)
		}
	}
	return roles
}

func normalizeRoles(roles []string, cfg model.RoleClaimMapping) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if cfg.NormalizeOrDefault() {
			r = Normalize(r)
		}
		if cfg.UppercaseOrDefault() {
			r = strings.ToUpper(r)
		}
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Normalize applies Unicode NFC normalization, strips combining diacritical
// marks, replaces runs of whitespace with "_", and drops all characters
// outside [A-Za-z0-9_] (spec §4.4). It is idempotent (spec §8 invariant 7):
// Normalize(Normalize(x)) == Normalize(x), and it is the identity on
// ASCII alphanumerics/underscores.
func Normalize(s string) string {
	s = whitespaceRun.ReplaceAllString(s, "_")

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}

	return normalizeDropChar.ReplaceAllString(out, "")
}
