package headerproject

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/georchestra/gateway/pkg/model"
)

func defaultMappings() model.HeaderMappings {
	return model.HeaderMappings{}
}

func TestStripInbound_RemovesSecAndPreauthHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("sec-roles", "ROLE_SUPER")
	h.Set("sec-georchestra-preauthenticated", "true")
	h.Set("preauth-username", "bob")
	h.Set("X-Other", "keep")

	StripInbound(h)

	assert.Empty(t, h.Get("sec-roles"))
	assert.Empty(t, h.Get("sec-georchestra-preauthenticated"))
	assert.Empty(t, h.Get("preauth-username"))
	assert.Equal(t, "keep", h.Get("X-Other"))
}

func TestProject_S1AnonymousOmitsUsername(t *testing.T) {
	h := http.Header{}
	Project(h, model.Anonymous(), nil, defaultMappings(), false)

	assert.Equal(t, "true", h.Get("sec-proxy"))
	assert.Empty(t, h.Get("sec-username"))
	assert.Empty(t, h.Get("sec-roles"))
}

func TestProject_S4PreAuthStripAndInject(t *testing.T) {
	// spec §8 S4.
	h := http.Header{}
	h.Set("sec-roles", "ROLE_SUPER")
	StripInbound(h)

	user := &model.User{
		Username:  "bob",
		LastName:  "Mauduit",
		Roles:     []string{"ROLE_USER", "ROLE_ADMIN"},
	}
	Project(h, user, nil, defaultMappings(), true)

	assert.Equal(t, "bob", h.Get("sec-username"))
	assert.Equal(t, "Mauduit", h.Get("sec-lastname"))
	assert.Equal(t, "ROLE_USER;ROLE_ADMIN", h.Get("sec-roles"))
	assert.Equal(t, "true", h.Get("sec-proxy"))
	assert.Equal(t, "true", h.Get("sec-external-authentication"))
}

func TestProject_NonASCIIValueIsBase64Encoded(t *testing.T) {
	h := http.Header{}
	user := &model.User{Username: "u", LastName: "日本語"}
	Project(h, user, nil, defaultMappings(), false)

	v := h.Get("sec-lastname")
	assert.Contains(t, v, "{base64}")
}

func TestProject_HeaderMappingOverride(t *testing.T) {
	h := http.Header{}
	disabled := false
	mappings := model.HeaderMappings{Username: &disabled}
	user := &model.User{Username: "bob"}

	Project(h, user, nil, mappings, false)
	assert.Empty(t, h.Get("sec-username"))
}
