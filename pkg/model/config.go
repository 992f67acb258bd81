package model

// DirectorySourceConfig describes one configured LDAP directory source
// (spec §3, Authentication Source Config / directory variant).
type DirectorySourceConfig struct {
	Name             string `yaml:"-"`
	Enabled          bool   `yaml:"enabled"`
	URL              string `yaml:"url"`
	BaseDN           string `yaml:"baseDn"`
	UsersRDN         string `yaml:"users"`
	UserSearchFilter string `yaml:"userSearchFilter"`
	RolesRDN         string `yaml:"roles"`
	RoleSearchFilter string `yaml:"roleSearchFilter"`
	OrgsRDN          string `yaml:"orgs"`
	PendingOrgsRDN   string `yaml:"pendingOrgs"`
	AdminDN          string `yaml:"adminDn"`
	AdminPassword    string `yaml:"adminPassword"`
	Extended         bool   `yaml:"extended"`
}

// ClaimFieldMapping is a JSON-path list used to extract one user field from
// OIDC claims (spec §4.4).
type ClaimFieldMapping struct {
	Path []string `yaml:"path"`
}

// ClaimMappingSet is the general- or provider-specific non-standard claim
// mapping described in spec §4.4.
type ClaimMappingSet struct {
	ID              ClaimFieldMapping `yaml:"id"`
	Email           ClaimFieldMapping `yaml:"email"`
	GivenName       ClaimFieldMapping `yaml:"givenName"`
	FamilyName      ClaimFieldMapping `yaml:"familyName"`
	Organization    ClaimFieldMapping `yaml:"organization"`
	OrganizationUID ClaimFieldMapping `yaml:"organizationUid"`
	Roles           RoleClaimMapping  `yaml:"roles"`
}

// RoleClaimMapping configures role extraction from claims.
type RoleClaimMapping struct {
	Path      []string `yaml:"path"`
	Append    *bool    `yaml:"append"`
	Uppercase *bool    `yaml:"uppercase"`
	Normalize *bool    `yaml:"normalize"`
}

// AppendOrDefault returns Append or true if unset.
func (r RoleClaimMapping) AppendOrDefault() bool {
	if r.Append == nil {
		return true
	}
	return *r.Append
}

// UppercaseOrDefault returns Uppercase or true if unset.
func (r RoleClaimMapping) UppercaseOrDefault() bool {
	if r.Uppercase == nil {
		return true
	}
	return *r.Uppercase
}

// NormalizeOrDefault returns Normalize or true if unset.
func (r RoleClaimMapping) NormalizeOrDefault() bool {
	if r.Normalize == nil {
		return true
	}
	return *r.Normalize
}

// OIDCProviderConfig is one registered OIDC/OAuth2 client (spec §3/§4.2/§4.4).
type OIDCProviderConfig struct {
	RegistrationID string            `yaml:"-"`
	Enabled        bool              `yaml:"enabled"`
	ClientID       string            `yaml:"clientId"`
	ClientSecret   string            `yaml:"clientSecret"`
	IssuerURI      string            `yaml:"issuerUri"`
	Scopes         []string          `yaml:"scopes"`
	EndSessionURI  string            `yaml:"endSessionUri"`
	SearchEmail    bool              `yaml:"searchEmail"`
	GeneralMapping ClaimMappingSet   `yaml:"generalMapping"`
	ProviderClaims ClaimMappingSet   `yaml:"claims"`
	ProxyHost      string            `yaml:"proxyHost"`
	ProxyPort      int               `yaml:"proxyPort"`
	ProxyUsername  string            `yaml:"proxyUsername"`
	ProxyPassword  string            `yaml:"proxyPassword"`
}

// PreAuthConfig controls the pre-auth header reader (C3).
type PreAuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RoleMapping maps a glob source-role pattern to additional roles appended
// on match (spec §3 Role Mapping, §4.5 step 4).
type RoleMapping struct {
	Pattern       string   `yaml:"-"`
	AdditionalRoles []string `yaml:"-"`
}

// AccessRule is an ordered admit/deny declaration (spec §3 Access Rule, §4.7).
type AccessRule struct {
	InterceptPatterns []string `yaml:"interceptPatterns"`
	Anonymous         bool     `yaml:"anonymous"`
	Forbidden         bool     `yaml:"forbidden"`
	AllowedRoles      []string `yaml:"allowedRoles"`
}

// HeaderMappings enumerates the sec-* headers that may be emitted outbound
// (spec §4.8, §6). A nil pointer means "inherit the default".
type HeaderMappings struct {
	Proxy                  *bool `yaml:"proxy"`
	Username               *bool `yaml:"username"`
	Roles                  *bool `yaml:"roles"`
	Org                    *bool `yaml:"org"`
	OrgName                *bool `yaml:"orgname"`
	Email                  *bool `yaml:"email"`
	FirstName              *bool `yaml:"firstname"`
	LastName               *bool `yaml:"lastname"`
	Tel                    *bool `yaml:"tel"`
	JSONUser               *bool `yaml:"jsonUser"`
	JSONOrganization       *bool `yaml:"jsonOrganization"`
	ExternalAuthentication *bool `yaml:"externalAuthentication"`
}

// Effective merges a service-level override onto a default set: a
// non-nil service value always wins over the default (spec §4.8).
func (h HeaderMappings) Effective(def HeaderMappings) HeaderMappings {
	merge := func(svc, d *bool) *bool {
		if svc != nil {
			return svc
		}
		return d
	}
	return HeaderMappings{
		Proxy:                  merge(h.Proxy, def.Proxy),
		Username:               merge(h.Username, def.Username),
		Roles:                  merge(h.Roles, def.Roles),
		Org:                    merge(h.Org, def.Org),
		OrgName:                merge(h.OrgName, def.OrgName),
		Email:                  merge(h.Email, def.Email),
		FirstName:              merge(h.FirstName, def.FirstName),
		LastName:               merge(h.LastName, def.LastName),
		Tel:                    merge(h.Tel, def.Tel),
		JSONUser:               merge(h.JSONUser, def.JSONUser),
		JSONOrganization:       merge(h.JSONOrganization, def.JSONOrganization),
		ExternalAuthentication: merge(h.ExternalAuthentication, def.ExternalAuthentication),
	}
}

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Enabled reports whether a given header name (lowercase, e.g. "username")
// is enabled under this effective mapping.
func (h HeaderMappings) Enabled(name string) bool {
	switch name {
	case "proxy":
		return boolOrDefault(h.Proxy, true)
	case "username":
		return boolOrDefault(h.Username, true)
	case "roles":
		return boolOrDefault(h.Roles, true)
	case "org":
		return boolOrDefault(h.Org, true)
	case "orgname":
		return boolOrDefault(h.OrgName, false)
	case "email":
		return boolOrDefault(h.Email, true)
	case "firstname":
		return boolOrDefault(h.FirstName, true)
	case "lastname":
		return boolOrDefault(h.LastName, true)
	case "tel":
		return boolOrDefault(h.Tel, false)
	case "jsonUser":
		return boolOrDefault(h.JSONUser, false)
	case "jsonOrganization":
		return boolOrDefault(h.JSONOrganization, false)
	case "externalAuthentication":
		return boolOrDefault(h.ExternalAuthentication, true)
	default:
		return false
	}
}

// Service is a named logical backend with its own access rules and
// header-projection overrides (spec §3 Service, GLOSSARY).
type Service struct {
	Name           string
	Target         string         `yaml:"target"`
	AccessRules    []AccessRule   `yaml:"accessRules"`
	HeaderMappings HeaderMappings `yaml:"headers"`
}

// RoutePredicate is one matcher a Route requires of the inbound request.
type RoutePredicate struct {
	Path        string            `yaml:"path"`
	Methods     []string          `yaml:"methods"`
	Host        string            `yaml:"host"`
	Headers     map[string]string `yaml:"headers"`
	QueryParams map[string]string `yaml:"queryParams"`
}

// RouteFilter is one ordered filter directive attached to a Route
// (spec §4.9).
type RouteFilter struct {
	RewritePath     *RewritePathFilter     `yaml:"rewritePath,omitempty"`
	CookieAffinity  *CookieAffinityFilter  `yaml:"cookieAffinity,omitempty"`
	StripBasePath   *int                   `yaml:"stripBasePath,omitempty"`
	RouteProfile    string                 `yaml:"routeProfile,omitempty"`
	LoginParamRedirect bool                `yaml:"loginParamRedirect,omitempty"`
	ApplicationError bool                  `yaml:"applicationError,omitempty"`
}

// RewritePathFilter rewrites the forwarded path via regexp.
type RewritePathFilter struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// CookieAffinityFilter re-emits a Set-Cookie seen with Path=FromPath also
// with Path=ToPath.
type CookieAffinityFilter struct {
	Name     string `yaml:"name"`
	FromPath string `yaml:"fromPath"`
	ToPath   string `yaml:"toPath"`
}

// Route matches an inbound request to a target service (spec §3 Route).
type Route struct {
	ID         string           `yaml:"id"`
	TargetURI  string           `yaml:"uri"`
	Predicates []RoutePredicate `yaml:"predicates"`
	Filters    []RouteFilter    `yaml:"filters"`
}

// SecurityConfig is the top-level `security` YAML document (spec §6).
type SecurityConfig struct {
	Directories               map[string]*DirectorySourceConfig `yaml:"directories"`
	OIDCProviders             map[string]*OIDCProviderConfig     `yaml:"oidc"`
	PreAuth                   PreAuthConfig                      `yaml:"preauth"`
	CreateNonExistingUsers    bool                               `yaml:"createNonExistingUsersInLDAP"`
	DefaultOrganization       string                             `yaml:"defaultOrganization"`
}

// GatewayConfig is the fully loaded, validated startup configuration
// (spec §6): services & access rules, routes, security, role mappings,
// logging/MDC.
type GatewayConfig struct {
	Services          map[string]*Service
	DefaultHeaders     HeaderMappings
	GlobalAccessRules  []AccessRule
	Routes             []Route
	Security           SecurityConfig
	RoleMappings       []RoleMapping
	ActiveProfiles     map[string]bool
	MDCKeys            []string
	LoginURL           string
	DefaultLogoutURL   string
	BrokerURL          string
	BrokerRoutingKey   string
}
