// Package headerproject implements the Header Projector (C8, spec §4.8):
// unconditionally stripping inbound sec-*/preauth-* headers, then
// appending outbound identity headers derived from the resolved user,
// gated by the effective HeaderMappings.
//
// ISO-8859-1 safety and the {base64} payload convention are implemented
// with golang.org/x/text/encoding/charmap and stdlib encoding/base64,
// grounded on the teacher's header-handling test shapes in
// pkg/transport/proxy/common (ExtractForwardedHeaders).
package headerproject

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/georchestra/gateway/pkg/model"
)

const secPrefix = "sec-"
const preauthPrefix = "preauth-"
const preauthFlag = "sec-georchestra-preauthenticated"

// StripInbound removes, case-insensitively, every sec-* and preauth-*
// header (and the preauth flag itself) from the inbound request headers
// (spec §4.8, §8 invariant 2). It is unconditional: any value C3 needed
// must already have been read before this call.
func StripInbound(h http.Header) {
	for name := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, secPrefix) || strings.HasPrefix(lower, preauthPrefix) || lower == preauthFlag {
			h.Del(name)
		}
	}
}

// jsonOrg is the subset of Organization serialized for sec-json-organization.
type jsonOrg struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"shortName"`
	Type        string `json:"type"`
	ExternalUID string `json:"externalUid,omitempty"`
}

type jsonUser struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName"`
	Organization string   `json:"organization"`
	Roles        []string `json:"roles"`
}

// Project appends outbound identity headers to h, derived from user (which
// may be the anonymous user) and optionally org, gated by mappings
// (spec §4.8's table). isExternal governs sec-external-authentication.
func Project(h http.Header, user *model.User, org *model.Organization, mappings model.HeaderMappings, isExternal bool) {
	if mappings.Enabled("proxy") {
		h.Set("sec-proxy", "true")
	}

	anonymous := user.IsAnonymous()

	if !anonymous && mappings.Enabled("username") {
		setSafe(h, "sec-username", user.Username)
	}
	if !anonymous && mappings.Enabled("roles") {
		setSafe(h, "sec-roles", strings.Join(user.Roles, ";"))
	}
	if mappings.Enabled("org") {
		setSafe(h, "sec-org", user.Organization)
	}
	if mappings.Enabled("orgname") && org != nil {
		setSafe(h, "sec-orgname", org.Name)
	}
	if mappings.Enabled("email") {
		setSafe(h, "sec-email", user.Email)
	}
	if mappings.Enabled("firstname") {
		setSafe(h, "sec-firstname", user.FirstName)
	}
	if mappings.Enabled("lastname") {
		setSafe(h, "sec-lastname", user.LastName)
	}
	if mappings.Enabled("tel") {
		setSafe(h, "sec-tel", user.TelephoneNumber)
	}
	if mappings.Enabled("jsonUser") {
		h.Set("sec-json-user", base64JSON(jsonUser{
			ID: user.ID, Username: user.Username, Email: user.Email,
			FirstName: user.FirstName, LastName: user.LastName,
			Organization: user.Organization, Roles: user.Roles,
		}))
	}
	if mappings.Enabled("jsonOrganization") && org != nil {
		h.Set("sec-json-organization", base64JSON(jsonOrg{
			ID: org.ID, Name: org.Name, ShortName: org.ShortName,
			Type: org.Type, ExternalUID: org.ExternalUID,
		}))
	}
	if isExternal && mappings.Enabled("externalAuthentication") {
		h.Set("sec-external-authentication", "true")
	}
}

func base64JSON(v any) string {
	body, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(body)
}

// setSafe sets header name to value, re-encoding as {base64}<base64> when
// value is not representable in ISO-8859-1 (spec §6: "Character set:
// ISO-8859-1 only, non-ASCII fields encoded as {base64}<base64>"). Empty
// values are not set at all.
func setSafe(h http.Header, name, value string) {
	if value == "" {
		return
	}
	enc := charmap.ISO8859_1.NewEncoder()
	if _, err := enc.String(value); err != nil {
		h.Set(name, "{base64}"+base64.StdEncoding.EncodeToString([]byte(value)))
		return
	}
	h.Set(name, value)
}
