// Package directory implements the Directory Client (C1, spec §4.1): bind
// authentication, user/role/org search, and user/org/role creation against
// an LDAP directory, via github.com/go-ldap/ldap/v3.
//
// The teacher repository has no directory concern of its own; this package
// is grounded on the "thin client wrapping a narrow interface" shape seen
// in pkg/auth/remote/handler.go, and the go-ldap/ldap/v3 dependency is
// grounded on the sethbacon-terraform-registry-backend example's go.mod.
package directory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/logger"
	"github.com/georchestra/gateway/pkg/model"
)

// Client is a narrow LDAP-backed implementation of one configured
// directory source. It keeps a single re-used admin connection (reconnect
// on error), matching spec §5's "connection pool of size 1" resourcing.
type Client struct {
	cfg model.DirectorySourceConfig

	mu   sync.Mutex
	conn *ldap.Conn

	dial func(url string) (*ldap.Conn, error)
}

// New constructs a Client for the given directory source configuration.
func New(cfg model.DirectorySourceConfig) *Client {
	return &Client{
		cfg:  cfg,
		dial: ldap.DialURL,
	}
}

func (c *Client) adminConn() (*ldap.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		// A cheap liveness probe: a base-object search on a dead connection
		// errors, at which point we redial below.
		if _, err := c.conn.Search(ldap.NewSearchRequest(c.cfg.BaseDN, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false, "(objectClass=*)", nil, nil)); err == nil {
			return c.conn, nil
		}
		c.conn.Close()
		c.conn = nil
	}

	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindDirectoryUnavailable, "dial "+c.cfg.URL, err)
	}
	if err := conn.Bind(c.cfg.AdminDN, c.cfg.AdminPassword); err != nil {
		conn.Close()
		return nil, gatewayerrors.Wrap(gatewayerrors.KindDirectoryUnavailable, "admin bind", err)
	}
	c.conn = conn
	return conn, nil
}

// DNForUsername computes the distinguished name a user with this username
// would have in this directory source, without performing a search.
func (c *Client) DNForUsername(username string) string {
	return fmt.Sprintf("uid=%s,%s", ldap.EscapeDN(username), userBase(c.cfg))
}

func userBase(cfg model.DirectorySourceConfig) string {
	return cfg.UsersRDN + "," + cfg.BaseDN
}

func roleBase(cfg model.DirectorySourceConfig) string {
	return cfg.RolesRDN + "," + cfg.BaseDN
}

func orgBase(cfg model.DirectorySourceConfig, pending bool) string {
	if pending && cfg.PendingOrgsRDN != "" {
		return cfg.PendingOrgsRDN + "," + cfg.BaseDN
	}
	return cfg.OrgsRDN + "," + cfg.BaseDN
}

// Bind resolves the user DN via UserSearchFilter and performs a bind as that
// DN with the supplied password (spec §4.1 bind operation). It does not run
// RoleSearchFilter: the returned token carries only the DN and source name,
// and the user's roles are read later from the entry's memberOf attribute
// by FindByUsername.
func (c *Client) Bind(username, password string) (*model.DirectoryBindToken, error) {
	conn, err := c.adminConn()
	if err != nil {
		return nil, err
	}

	filter := fmt.Sprintf(c.cfg.UserSearchFilter, ldap.EscapeFilter(username))
	res, err := conn.Search(ldap.NewSearchRequest(
		userBase(c.cfg), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		1, 0, false, filter, []string{"dn"}, nil,
	))
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindDirectoryUnavailable, "user search", err)
	}
	if len(res.Entries) != 1 {
		return nil, gatewayerrors.New(gatewayerrors.KindInvalidCredentials, "no such user")
	}
	userDN := res.Entries[0].DN

	userConn, err := c.dial(c.cfg.URL)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindDirectoryUnavailable, "dial for bind", err)
	}
	defer userConn.Close()

	if err := userConn.Bind(userDN, password); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindInvalidCredentials, "bind failed", err)
	}

	return &model.DirectoryBindToken{UserDN: userDN, DirectorySource: c.cfg.Name}, nil
}

// Entry is a resolved directory user record.
type Entry struct {
	DN              string
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

func (c *Client) findOne(filter string, attrs []string) (*Entry, error) {
	conn, err := c.adminConn()
	if err != nil {
		return nil, err
	}
	res, err := conn.Search(ldap.NewSearchRequest(
		userBase(c.cfg), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, 0, false, filter, attrs, nil,
	))
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.KindDirectoryUnavailable, "search", err)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	if len(res.Entries) > 1 {
		return nil, gatewayerrors.New(gatewayerrors.KindDuplicateEmail, "multiple entries match")
	}
	return entryFromLDAP(res.Entries[0]), nil
}

func entryFromLDAP(e *ldap.Entry) *Entry {
	return &Entry{
		DN:               e.DN,
		Username:         e.GetAttributeValue("uid"),
		FirstName:        e.GetAttributeValue("givenName"),
		LastName:         e.GetAttributeValue("sn"),
		Email:            e.GetAttributeValue("mail"),
		Organization:     e.GetAttributeValue("o"),
		ExternalProvider: e.GetAttributeValue("georchestraExternalProvider"),
		ExternalUID:      e.GetAttributeValue("georchestraExternalUid"),
		Roles:            e.GetAttributeValues("memberOf"),
	}
}

// FindByUsername returns zero or one user (spec §4.1).
func (c *Client) FindByUsername(username string) (*Entry, error) {
	return c.findOne(fmt.Sprintf("(uid=%s)", ldap.EscapeFilter(username)), nil)
}

// FindByEmail returns zero or one user. Enabled per OIDC provider via the
// provider's searchEmail flag (spec §4.1, §4.4 decision in SPEC_FULL §5).
func (c *Client) FindByEmail(email string) (*Entry, error) {
	return c.findOne(fmt.Sprintf("(mail=%s)", ldap.EscapeFilter(email)), nil)
}

// FindByExternalUID returns zero or one user matching the given provider
// and external subject (spec §4.1).
func (c *Client) FindByExternalUID(provider, uid string) (*Entry, error) {
	filter := fmt.Sprintf("(&(georchestraExternalProvider=%s)(georchestraExternalUid=%s))",
		ldap.EscapeFilter(provider), ldap.EscapeFilter(uid))
	return c.findOne(filter, nil)
}

// CreateUser creates a brief account entry (username, name, email, org, and
// external-provider linkage) marked non-pending, with any missing org
// replaced by the configured default org. Returns *DuplicateUsername or
// *DuplicateEmail if a matching entry already exists (spec §4.1).
func (c *Client) CreateUser(u *model.User, defaultOrg string) error {
	if existing, err := c.FindByUsername(u.Username); err != nil {
		return err
	} else if existing != nil {
		return gatewayerrors.New(gatewayerrors.KindDuplicateUsername, u.Username)
	}
	if u.Email != "" {
		if existing, err := c.FindByEmail(u.Email); err != nil {
			return err
		} else if existing != nil {
			return gatewayerrors.New(gatewayerrors.KindDuplicateEmail, u.Email)
		}
	}

	org := u.Organization
	if org == "" {
		org = defaultOrg
	}

	conn, err := c.adminConn()
	if err != nil {
		return err
	}

	dn := fmt.Sprintf("uid=%s,%s", ldap.EscapeDN(u.Username), userBase(c.cfg))
	attrs := []ldap.Attribute{
		{Type: "objectClass", Vals: []string{"top", "person", "organizationalPerson", "inetOrgPerson"}},
		{Type: "uid", Vals: []string{u.Username}},
		{Type: "cn", Vals: []string{strings.TrimSpace(u.FirstName + " " + u.LastName)}},
		{Type: "sn", Vals: []string{u.LastName}},
	}
	if u.FirstName != "" {
		attrs = append(attrs, ldap.Attribute{Type: "givenName", Vals: []string{u.FirstName}})
	}
	if u.Email != "" {
		attrs = append(attrs, ldap.Attribute{Type: "mail", Vals: []string{u.Email}})
	}
	if org != "" {
		attrs = append(attrs, ldap.Attribute{Type: "o", Vals: []string{org}})
	}
	if u.ExternalProvider != "" {
		attrs = append(attrs, ldap.Attribute{Type: "georchestraExternalProvider", Vals: []string{u.ExternalProvider}})
		attrs = append(attrs, ldap.Attribute{Type: "georchestraExternalUid", Vals: []string{u.ExternalUID}})
	}

	req := ldap.NewAddRequest(dn, nil)
	for _, a := range attrs {
		req.Attribute(a.Type, a.Vals)
	}
	if err := conn.Add(req); err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindDirectoryUnavailable, "create user", err)
	}
	u.Organization = org
	return nil
}

// EnsureRoles ensures a role entry exists for each role (creating if
// missing) and adds the user as a member, always ensuring membership in
// "USER" too (spec §4.1).
func (c *Client) EnsureRoles(roles []string, userDN string) error {
	conn, err := c.adminConn()
	if err != nil {
		return err
	}

	all := append([]string{}, roles...)
	all = append(all, "USER")

	for _, role := range all {
		role = strings.TrimPrefix(role, model.RolePrefix)
		dn := fmt.Sprintf("cn=%s,%s", ldap.EscapeDN(role), roleBase(c.cfg))

		if err := ensureMember(conn, dn, userDN, func() error {
			req := ldap.NewAddRequest(dn, nil)
			req.Attribute("objectClass", []string{"top", "groupOfMembers"})
			req.Attribute("cn", []string{role})
			req.Attribute("member", []string{userDN})
			return conn.Add(req)
		}); err != nil {
			return gatewayerrors.Wrap(gatewayerrors.KindRoleProvisioningFailed, role, err)
		}
	}
	return nil
}

func ensureMember(conn *ldap.Conn, groupDN, memberDN string, create func() error) error {
	modify := ldap.NewModifyRequest(groupDN, nil)
	modify.Add("member", []string{memberDN})
	if err := conn.Modify(modify); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return create()
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists) {
			return nil // already a member: idempotent (spec §4.1)
		}
		return err
	}
	return nil
}

// EnsureOrg looks up the org by ExternalOrgID when set, otherwise by
// common name; creates it when missing and adds the user as a member. If
// the user's stored org differs from the provider-indicated org, it
// unlinks from the former and links to the latter. All membership
// operations are idempotent (spec §4.1).
func (c *Client) EnsureOrg(u *model.User, userDN string) error {
	if !c.cfg.Extended {
		return nil
	}
	conn, err := c.adminConn()
	if err != nil {
		return err
	}

	var filter string
	if u.ExternalOrgID != "" {
		filter = fmt.Sprintf("(georchestraExternalUid=%s)", ldap.EscapeFilter(u.ExternalOrgID))
	} else if u.Organization != "" {
		filter = fmt.Sprintf("(cn=%s)", ldap.EscapeFilter(u.Organization))
	} else {
		return nil
	}

	res, err := conn.Search(ldap.NewSearchRequest(
		orgBase(c.cfg, false), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		1, 0, false, filter, []string{"dn", "cn"}, nil,
	))
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindOrgProvisioningFailed, "org search", err)
	}

	var orgDN, orgCN string
	if len(res.Entries) == 1 {
		orgDN = res.Entries[0].DN
		orgCN = res.Entries[0].GetAttributeValue("cn")
	} else {
		orgCN = u.Organization
		if orgCN == "" {
			orgCN = u.ExternalOrgID
		}
		orgDN = fmt.Sprintf("cn=%s,%s", ldap.EscapeDN(orgCN), orgBase(c.cfg, false))
		add := ldap.NewAddRequest(orgDN, nil)
		add.Attribute("objectClass", []string{"top", "groupOfMembers"})
		add.Attribute("cn", []string{orgCN})
		if u.ExternalOrgID != "" {
			add.Attribute("georchestraExternalUid", []string{u.ExternalOrgID})
		}
		if err := conn.Add(add); err != nil {
			return gatewayerrors.Wrap(gatewayerrors.KindOrgProvisioningFailed, "create org", err)
		}
	}

	if u.Organization != "" && u.Organization != orgCN {
		unlink := ldap.NewModifyRequest(
			fmt.Sprintf("cn=%s,%s", ldap.EscapeDN(u.Organization), orgBase(c.cfg, false)), nil)
		unlink.Delete("member", []string{userDN})
		_ = conn.Modify(unlink) // best-effort
	}

	link := ldap.NewModifyRequest(orgDN, nil)
	link.Add("member", []string{userDN})
	if err := conn.Modify(link); err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists) {
		return gatewayerrors.Wrap(gatewayerrors.KindOrgProvisioningFailed, "link member", err)
	}

	u.Organization = orgCN
	return nil
}

// RollbackUser performs a best-effort delete of the user entry after a
// later step failed (spec §4.1). Failures log a warning and are otherwise
// swallowed.
func (c *Client) RollbackUser(userDN string) {
	conn, err := c.adminConn()
	if err != nil {
		logger.Warnf("rollback: cannot reach directory to delete %s: %v", userDN, err)
		return
	}
	if err := conn.Del(ldap.NewDelRequest(userDN, nil)); err != nil {
		logger.Warnf("rollback: failed to delete %s: %v", userDN, err)
	}
}
