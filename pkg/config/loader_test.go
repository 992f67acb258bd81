package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad_RoundTripsAllDocuments(t *testing.T) {
	t.Setenv("GW_TEST_LDAP_PASSWORD", "s3cret")
	dir := t.TempDir()

	writeFile(t, dir, "services.yaml", `
services:
  mapstore:
    target: "http://mapstore:8080"
    accessRules:
      - interceptPatterns: ["/mapstore/**"]
        anonymous: true
defaultHeaders:
  proxy: true
`)
	writeFile(t, dir, "routes.yaml", `
routes:
  - id: mapstore
    uri: "http://mapstore:8080"
    predicates:
      - path: "/mapstore/**"
`)
	writeFile(t, dir, "security.yaml", `
security:
  directories:
    ldap:
      enabled: true
      url: "ldap://ldap:389"
      adminPassword: "${GW_TEST_LDAP_PASSWORD}"
  createNonExistingUsersInLDAP: true
`)
	writeFile(t, dir, "role-mappings.yaml", `
ROLE_ADMIN: ["ROLE_SUPERUSER"]
`)
	writeFile(t, dir, "logging.yaml", `
mdcKeys: ["requestId"]
`)
	writeFile(t, dir, "gateway.yaml", `
loginUrl: "/login"
defaultLogoutUrl: "https://sdi.example.org/"
activeProfiles: ["ldap", "oidc"]
broker:
  url: "amqp://broker:5672"
  exchange: "gateway-exchange"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/login", cfg.LoginURL)
	assert.Equal(t, "https://sdi.example.org/", cfg.DefaultLogoutURL)
	assert.Equal(t, "amqp://broker:5672", cfg.BrokerURL)
	assert.Equal(t, "gateway-exchange", cfg.BrokerRoutingKey)
	assert.True(t, cfg.ActiveProfiles["ldap"])
	assert.True(t, cfg.ActiveProfiles["oidc"])
	assert.False(t, cfg.ActiveProfiles["unused"])

	require.Contains(t, cfg.Security.Directories, "ldap")
	assert.Equal(t, "s3cret", cfg.Security.Directories["ldap"].AdminPassword, "${VAR} must be interpolated from the environment")

	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "http://mapstore:8080", cfg.Routes[0].TargetURI)

	require.Contains(t, cfg.Services, "mapstore")
	assert.Equal(t, "http://mapstore:8080", cfg.Services["mapstore"].Target)

	require.Len(t, cfg.RoleMappings, 1)
	assert.Equal(t, "ROLE_ADMIN", cfg.RoleMappings[0].Pattern)
	assert.Equal(t, []string{"ROLE_SUPERUSER"}, cfg.RoleMappings[0].AdditionalRoles)
}

func TestLoad_MissingOptionalDocumentsLeaveZeroValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "services.yaml", `
services:
  mapstore:
    target: "http://mapstore:8080"
`)
	writeFile(t, dir, "routes.yaml", `
routes:
  - id: mapstore
    uri: "http://mapstore:8080"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.BrokerURL)
	assert.Equal(t, "", cfg.DefaultLogoutURL)
	assert.Empty(t, cfg.ActiveProfiles)
}
