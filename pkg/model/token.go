package model

// AuthToken is the internal sum type produced by an authentication filter
// (spec §3 Authentication Token). Exactly one of the Directory/OIDC/PreAuth
// fields is non-nil. Authentication tokens live only within the request
// that produced them.
type AuthToken struct {
	Directory *DirectoryBindToken
	OIDC      *OIDCToken
	PreAuth   *PreAuthToken
}

// DirectoryBindToken is produced by a successful LDAP bind (C1).
type DirectoryBindToken struct {
	UserDN        string
	DirectorySource string
}

// OIDCToken is produced by a completed authorization-code flow (C2).
type OIDCToken struct {
	RegistrationID string
	IDTokenClaims  map[string]any
	UserInfoClaims map[string]any
	Authorities    []string
}

// PreAuthToken is produced by the pre-auth header reader (C3).
type PreAuthToken struct {
	Headers map[string]string
}

// SourceName identifies which authentication source produced the token,
// used for ExternalProvider bookkeeping and OIDC lookup-key selection.
func (t *AuthToken) SourceName() string {
	switch {
	case t == nil:
		return ""
	case t.Directory != nil:
		return t.Directory.DirectorySource
	case t.OIDC != nil:
		return t.OIDC.RegistrationID
	case t.PreAuth != nil:
		return t.PreAuth.Headers["provider"]
	default:
		return ""
	}
}

// IsExternal reports whether the token came from an external identity
// source (OIDC or pre-auth), as opposed to the local directory bind. Used
// to gate the sec-external-authentication header (spec §4.8).
func (t *AuthToken) IsExternal() bool {
	return t != nil && (t.OIDC != nil || t.PreAuth != nil)
}

// MergedClaims returns the id-token claims overridden by userinfo claims,
// per spec §4.4 ("userinfo overrides id-token on overlap").
func (t *OIDCToken) MergedClaims() map[string]any {
	out := make(map[string]any, len(t.IDTokenClaims)+len(t.UserInfoClaims))
	for k, v := range t.IDTokenClaims {
		out[k] = v
	}
	for k, v := range t.UserInfoClaims {
		out[k] = v
	}
	return out
}
