package directory

import (
	"github.com/georchestra/gateway/pkg/account"
	"github.com/georchestra/gateway/pkg/resolver"
)

// Adapter satisfies pkg/account.Directory over a *Client, translating
// between this package's Entry and the Account Manager's narrower
// DirectoryEntry view.
type Adapter struct {
	*Client
}

// NewAdapter wraps a Client as an account.Directory.
func NewAdapter(c *Client) *Adapter {
	return &Adapter{Client: c}
}

// FindByUsername implements account.Directory.
func (a *Adapter) FindByUsername(username string) (*account.DirectoryEntry, error) {
	e, err := a.Client.FindByUsername(username)
	if err != nil || e == nil {
		return nil, err
	}
	return &account.DirectoryEntry{DN: e.DN}, nil
}

// ResolverAdapter satisfies pkg/resolver.Directory over a *Client.
type ResolverAdapter struct {
	*Client
}

// NewResolverAdapter wraps a Client as a resolver.Directory.
func NewResolverAdapter(c *Client) *ResolverAdapter {
	return &ResolverAdapter{Client: c}
}

func toResolverUser(e *Entry) *resolver.DirectoryUser {
	if e == nil {
		return nil
	}
	return &resolver.DirectoryUser{
		Username:         e.Username,
		FirstName:        e.FirstName,
		LastName:         e.LastName,
		Email:            e.Email,
		Organization:     e.Organization,
		ExternalProvider: e.ExternalProvider,
		ExternalUID:      e.ExternalUID,
		Roles:            e.Roles,
		PasswordWarn:     e.PasswordWarn,
		RemainingDays:    e.RemainingDays,
	}
}

// FindByUsername implements resolver.Directory.
func (a *ResolverAdapter) FindByUsername(username string) (*resolver.DirectoryUser, error) {
	e, err := a.Client.FindByUsername(username)
	if err != nil {
		return nil, err
	}
	return toResolverUser(e), nil
}

// FindByEmail implements resolver.Directory.
func (a *ResolverAdapter) FindByEmail(email string) (*resolver.DirectoryUser, error) {
	e, err := a.Client.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	return toResolverUser(e), nil
}

// FindByExternalUID implements resolver.Directory.
func (a *ResolverAdapter) FindByExternalUID(provider, uid string) (*resolver.DirectoryUser, error) {
	e, err := a.Client.FindByExternalUID(provider, uid)
	if err != nil {
		return nil, err
	}
	return toResolverUser(e), nil
}
