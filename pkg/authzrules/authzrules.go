// Package authzrules implements the Access-Rule Engine (C7, spec §4.7):
// ordered glob-pattern rule evaluation deciding admit / deny /
// require-authentication / require-role per request, with service rules
// taking precedence over global rules.
//
// Patterns are compiled once at config load with github.com/gobwas/glob
// (already an indirect teacher dependency, promoted to direct here),
// using Ant-style "**" path-segment wildcards the way spec §4.7 and §4.9
// both require.
package authzrules

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/georchestra/gateway/pkg/model"
)

// Decision is the outcome of evaluating the access-rule engine for one
// request (spec §4.7).
type Decision int

const (
	// DecisionDeny denies the request unconditionally (forbidden=true, or no rule matched).
	DecisionDeny Decision = iota
	// DecisionPermit permits the request unconditionally (anonymous=true).
	DecisionPermit
	// DecisionRequireAuthenticated permits only non-anonymous users.
	DecisionRequireAuthenticated
	// DecisionRequireRole permits only users holding one of AllowedRoles.
	DecisionRequireRole
)

// CompiledRule is an AccessRule with its intercept patterns pre-compiled.
type CompiledRule struct {
	patterns []glob.Glob
	rule     model.AccessRule
}

// Compile compiles every intercept pattern in rule using Ant-style "**"
// path-segment semantics ("?" one char not "/", "*" zero+ chars not "/",
// "**" zero+ path segments; spec §4.7).
func Compile(rule model.AccessRule) (CompiledRule, error) {
	compiled := make([]glob.Glob, 0, len(rule.InterceptPatterns))
	for _, p := range rule.InterceptPatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return CompiledRule{}, err
		}
		compiled = append(compiled, g)
	}
	return CompiledRule{patterns: compiled, rule: rule}, nil
}

// CompileAll compiles an ordered list of rules, preserving order.
func CompileAll(rules []model.AccessRule) ([]CompiledRule, error) {
	out := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		c, err := Compile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (c CompiledRule) matches(path string) bool {
	for _, g := range c.patterns {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Engine evaluates access rules for matched requests (C7).
type Engine struct {
	serviceRules map[string][]CompiledRule // keyed by service target
	globalRules  []CompiledRule
}

// NewEngine compiles the per-service and global rule sets from configuration.
func NewEngine(cfg *model.GatewayConfig) (*Engine, error) {
	global, err := CompileAll(cfg.GlobalAccessRules)
	if err != nil {
		return nil, err
	}
	svcRules := make(map[string][]CompiledRule, len(cfg.Services))
	for _, svc := range cfg.Services {
		compiled, err := CompileAll(svc.AccessRules)
		if err != nil {
			return nil, err
		}
		svcRules[svc.Target] = compiled
	}
	return &Engine{serviceRules: svcRules, globalRules: global}, nil
}

// Evaluate decides access for path against serviceTarget's rules (falling
// back to global rules when no service-specific rule matches, or when
// serviceTarget is empty), and the user's current roles (spec §4.7).
//
// Resolution order: service-specific rules in configured order, first
// pattern match wins; if none match, global rules in configured order,
// first match wins; if none match, DecisionDeny.
func (e *Engine) Evaluate(serviceTarget, path string, user *model.User) Decision {
	if rules, ok := e.serviceRules[serviceTarget]; ok {
		if d, matched := evaluateRules(rules, path, user); matched {
			return d
		}
	}
	if d, matched := evaluateRules(e.globalRules, path, user); matched {
		return d
	}
	return DecisionDeny
}

func evaluateRules(rules []CompiledRule, path string, user *model.User) (Decision, bool) {
	for _, r := range rules {
		if !r.matches(path) {
			continue
		}
		if r.rule.Forbidden {
			return DecisionDeny, true
		}
		if r.rule.Anonymous {
			return DecisionPermit, true
		}
		if len(r.rule.AllowedRoles) == 0 {
			if user.IsAnonymous() {
				return DecisionDeny, true
			}
			return DecisionRequireAuthenticated, true
		}
		for _, role := range r.rule.AllowedRoles {
			if user.HasRole(role) {
				return DecisionPermit, true
			}
		}
		return DecisionDeny, true
	}
	return DecisionDeny, false
}

// NormalizePattern prefixes path with "/" when it lacks a leading slash,
// the way Ant-style patterns typically tolerate it. Evaluate does not call
// it, and no other package in this module does either.
func NormalizePattern(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
