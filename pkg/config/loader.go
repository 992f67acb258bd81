// Package config loads and validates the gateway's startup configuration
// from a YAML data directory, using spf13/viper the way the teacher's
// cobra commands wire it (cmd/thv-proxyrunner/app/commands.go): viper
// parses each document and unmarshals it into pkg/model types, decoding
// by the same `yaml` struct tags the models already carry.
//
// Configuration is loaded once at startup and never re-read: hot-reload is
// explicitly out of scope (spec §1).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/model"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnv substitutes ${VAR} occurrences with the environment
// variable's value, leaving the placeholder untouched if unset.
func interpolateEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// documents are the YAML files expected under the data directory (spec
// §6): services.yaml, routes.yaml, security.yaml, role-mappings.yaml,
// logging.yaml, gateway.yaml.
type documents struct {
	Services struct {
		Services          map[string]*model.Service `yaml:"services"`
		DefaultHeaders    model.HeaderMappings       `yaml:"defaultHeaders"`
		GlobalAccessRules []model.AccessRule         `yaml:"globalAccessRules"`
	}
	Routes struct {
		Routes []model.Route `yaml:"routes"`
	}
	Security struct {
		Security model.SecurityConfig `yaml:"security"`
	}
	Logging struct {
		MDCKeys []string `yaml:"mdcKeys"`
	}
	Gateway struct {
		LoginURL         string   `yaml:"loginUrl"`
		DefaultLogoutURL string   `yaml:"defaultLogoutUrl"`
		ActiveProfiles   []string `yaml:"activeProfiles"`
		Broker           struct {
			URL      string `yaml:"url"`
			Exchange string `yaml:"exchange"`
		} `yaml:"broker"`
	}
}

// Load reads services.yaml, routes.yaml, security.yaml, role-mappings.yaml,
// logging.yaml, and gateway.yaml from dir, interpolates environment
// variables, and returns a validated GatewayConfig. Any failure is an
// *InvalidConfiguration error (spec §7), fatal at startup.
func Load(dir string) (*model.GatewayConfig, error) {
	var docs documents

	if err := readYAML(dir, "services.yaml", &docs.Services); err != nil {
		return nil, err
	}
	if err := readYAML(dir, "routes.yaml", &docs.Routes); err != nil {
		return nil, err
	}
	if err := readYAML(dir, "security.yaml", &docs.Security); err != nil {
		return nil, err
	}
	var roleMappingsRaw map[string][]string
	if err := readYAML(dir, "role-mappings.yaml", &roleMappingsRaw); err != nil {
		return nil, err
	}
	if err := readYAML(dir, "logging.yaml", &docs.Logging); err != nil {
		return nil, err
	}
	if err := readYAML(dir, "gateway.yaml", &docs.Gateway); err != nil {
		return nil, err
	}

	for name, svc := range docs.Services.Services {
		svc.Name = name
	}
	for name, dir := range docs.Security.Security.Directories {
		dir.Name = name
	}
	for id, p := range docs.Security.Security.OIDCProviders {
		p.RegistrationID = id
	}

	roleMappings := make([]model.RoleMapping, 0, len(roleMappingsRaw))
	for pattern, roles := range roleMappingsRaw {
		roleMappings = append(roleMappings, model.RoleMapping{
			Pattern:         pattern,
			AdditionalRoles: roles,
		})
	}

	activeProfiles := make(map[string]bool, len(docs.Gateway.ActiveProfiles))
	for _, p := range docs.Gateway.ActiveProfiles {
		activeProfiles[p] = true
	}

	cfg := &model.GatewayConfig{
		Services:          docs.Services.Services,
		DefaultHeaders:    docs.Services.DefaultHeaders,
		GlobalAccessRules: docs.Services.GlobalAccessRules,
		Routes:            docs.Routes.Routes,
		Security:          docs.Security.Security,
		RoleMappings:      roleMappings,
		ActiveProfiles:    activeProfiles,
		MDCKeys:           docs.Logging.MDCKeys,
		LoginURL:          docs.Gateway.LoginURL,
		DefaultLogoutURL:  docs.Gateway.DefaultLogoutURL,
		BrokerURL:         docs.Gateway.Broker.URL,
		BrokerRoutingKey:  docs.Gateway.Broker.Exchange,
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readYAML loads one file into a viper instance (parsing, plus automatic
// env-var overlay via v.AutomaticEnv for any key also exported as an
// environment variable) and unmarshals it into out using the same `yaml`
// struct tags pkg/model already carries, rather than decoding twice with a
// second library.
func readYAML(dir, name string, out any) error {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "read "+name, err)
	}

	interpolated := interpolateEnv(raw)

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewReader(interpolated)); err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "parse "+name, err)
	}

	if err := v.Unmarshal(out, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "decode "+name, err)
	}
	return nil
}

// Validate checks the invariants spec §5 requires before accepting traffic:
// every Service has a target that corresponds to a Route's target URI,
// every access rule has at least one intercept pattern, and every role
// mapping has a non-empty source pattern. Route filters (including their
// profile names) are not checked here.
func Validate(cfg *model.GatewayConfig) error {
	targets := make(map[string]bool, len(cfg.Routes))
	for _, r := range cfg.Routes {
		targets[r.TargetURI] = true
	}
	for name, svc := range cfg.Services {
		if svc.Target == "" {
			return gatewayerrors.New(gatewayerrors.KindInvalidConfiguration,
				fmt.Sprintf("service %q has no target", name))
		}
		if !targets[svc.Target] {
			return gatewayerrors.New(gatewayerrors.KindInvalidConfiguration,
				fmt.Sprintf("service %q target %q matches no route", name, svc.Target))
		}
		for _, rule := range svc.AccessRules {
			if len(rule.InterceptPatterns) == 0 {
				return gatewayerrors.New(gatewayerrors.KindInvalidConfiguration,
					fmt.Sprintf("service %q has an access rule with no intercept patterns", name))
			}
		}
	}
	for _, rule := range cfg.GlobalAccessRules {
		if len(rule.InterceptPatterns) == 0 {
			return gatewayerrors.New(gatewayerrors.KindInvalidConfiguration, "global access rule with no intercept patterns")
		}
	}
	for _, rm := range cfg.RoleMappings {
		if rm.Pattern == "" {
			return gatewayerrors.New(gatewayerrors.KindInvalidConfiguration, "role mapping with empty source pattern")
		}
	}
	return nil
}
