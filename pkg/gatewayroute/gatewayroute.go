// Package gatewayroute implements the Route Matcher & Forwarder (C9, spec
// §4.9): ordered predicate matching against configured routes, and
// httputil.ReverseProxy-based forwarding with route filters applied.
//
// Grounded on the teacher's pkg/transport/proxy (director construction,
// streaming reverse-proxy setup) for the forwarding shape, and
// github.com/gobwas/glob (already used for C7) for Ant-style path and host
// predicates.
package gatewayroute

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/logger"
	"github.com/georchestra/gateway/pkg/model"
)

// CompiledRoute is a Route with its predicates and filters pre-compiled.
type CompiledRoute struct {
	id         string
	targetURI  string
	target     *url.URL
	predicates []compiledPredicate
	filters    []compiledFilter
	proxy      *httputil.ReverseProxy
}

type compiledPredicate struct {
	path    glob.Glob
	methods map[string]bool
	host    glob.Glob
	headers map[string]string
	query   map[string]string
}

type compiledFilter struct {
	rewritePath      *rewritePathFilter
	cookieAffinity   *model.CookieAffinityFilter
	stripBasePath    *int
	routeProfile     string
	loginParamRedirect bool
	applicationError bool
}

type rewritePathFilter struct {
	pattern     *regexp.Regexp
	replacement string
}

// Router holds the compiled route table (C9).
type Router struct {
	routes         []*CompiledRoute
	activeProfiles map[string]bool
}

// Compile builds a Router from the configured routes, in configured order
// (first match wins, spec §4.9).
func Compile(routes []model.Route, activeProfiles map[string]bool) (*Router, error) {
	r := &Router{activeProfiles: activeProfiles}
	for _, route := range routes {
		cr, err := compileRoute(route)
		if err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.KindInvalidConfiguration, "compile route "+route.ID, err)
		}
		r.routes = append(r.routes, cr)
	}
	return r, nil
}

func compileRoute(route model.Route) (*CompiledRoute, error) {
	target, err := url.Parse(route.TargetURI)
	if err != nil {
		return nil, err
	}

	predicates := make([]compiledPredicate, 0, len(route.Predicates))
	for _, p := range route.Predicates {
		cp, err := compilePredicate(p)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, cp)
	}

	filters := make([]compiledFilter, 0, len(route.Filters))
	for _, f := range route.Filters {
		cf, err := compileFilter(f)
		if err != nil {
			return nil, err
		}
		filters = append(filters, cf)
	}

	cr := &CompiledRoute{id: route.ID, targetURI: route.TargetURI, target: target, predicates: predicates, filters: filters}
	cr.proxy = newReverseProxy(cr)
	return cr, nil
}

func compilePredicate(p model.RoutePredicate) (compiledPredicate, error) {
	cp := compiledPredicate{headers: p.Headers, query: p.QueryParams}
	if p.Path != "" {
		g, err := glob.Compile(p.Path, '/')
		if err != nil {
			return cp, err
		}
		cp.path = g
	}
	if p.Host != "" {
		g, err := glob.Compile(p.Host, '.')
		if err != nil {
			return cp, err
		}
		cp.host = g
	}
	if len(p.Methods) > 0 {
		cp.methods = make(map[string]bool, len(p.Methods))
		for _, m := range p.Methods {
			cp.methods[strings.ToUpper(m)] = true
		}
	}
	return cp, nil
}

func compileFilter(f model.RouteFilter) (compiledFilter, error) {
	cf := compiledFilter{
		cookieAffinity:     f.CookieAffinity,
		stripBasePath:      f.StripBasePath,
		routeProfile:       f.RouteProfile,
		loginParamRedirect: f.LoginParamRedirect,
		applicationError:   f.ApplicationError,
	}
	if f.RewritePath != nil {
		pattern, err := regexp.Compile(f.RewritePath.Pattern)
		if err != nil {
			return cf, err
		}
		cf.rewritePath = &rewritePathFilter{pattern: pattern, replacement: f.RewritePath.Replacement}
	}
	return cf, nil
}

// Match returns the first route whose predicates all match r, and whether
// any matched (spec §4.9: path glob, method, header equality, query
// presence/equality, host glob; a route with no profile filter always
// qualifies, one with RouteProfile only matches when that profile is
// active).
func (rt *Router) Match(r *http.Request) (*CompiledRoute, bool) {
	for _, route := range rt.routes {
		if !route.matches(r) {
			continue
		}
		if !rt.profileActive(route) {
			continue
		}
		return route, true
	}
	return nil, false
}

func (rt *Router) profileActive(route *CompiledRoute) bool {
	for _, f := range route.filters {
		if f.routeProfile == "" {
			continue
		}
		if !rt.activeProfiles[f.routeProfile] {
			return false
		}
	}
	return true
}

func (cr *CompiledRoute) matches(r *http.Request) bool {
	for _, p := range cr.predicates {
		if p.path != nil && !p.path.Match(r.URL.Path) {
			return false
		}
		if p.host != nil && !p.host.Match(r.Host) {
			return false
		}
		if p.methods != nil && !p.methods[r.Method] {
			return false
		}
		for name, want := range p.headers {
			if r.Header.Get(name) != want {
				return false
			}
		}
		for name, want := range p.query {
			if r.URL.Query().Get(name) != want {
				return false
			}
		}
	}
	return true
}

// ID returns the route's configured identifier.
func (cr *CompiledRoute) ID() string { return cr.id }

// TargetURI returns the route's configured upstream target, matching the
// Service.Target it should be keyed against for access-rule evaluation
// (spec §3: "Service ... target (URI equal to some Route's targetUri)").
func (cr *CompiledRoute) TargetURI() string { return cr.targetURI }

// HasApplicationErrorFilter reports whether this route requests the Error
// Converter (C11) at highest precedence (spec §4.9, §4.11).
func (cr *CompiledRoute) HasApplicationErrorFilter() bool {
	for _, f := range cr.filters {
		if f.applicationError {
			return true
		}
	}
	return false
}

// HasLoginParamRedirect reports whether this route redirects anonymous
// callers to /login when the request carries a "login" query parameter
// (spec §4.9).
func (cr *CompiledRoute) HasLoginParamRedirect() bool {
	for _, f := range cr.filters {
		if f.loginParamRedirect {
			return true
		}
	}
	return false
}

// ServeHTTP forwards r to the route's target via httputil.ReverseProxy,
// applying the route's ordered filters (spec §4.9). Streaming is handled
// by httputil.ReverseProxy itself; no body buffering is introduced here.
func (cr *CompiledRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cr.proxy.ServeHTTP(w, r)
}

func newReverseProxy(cr *CompiledRoute) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(cr.target)
	baseDirector := proxy.Director

	proxy.Director = func(req *http.Request) {
		baseDirector(req)
		applyPathFilters(cr, req)
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		applyCookieAffinity(cr, resp)
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warnf("upstream error for route %s: %v", cr.id, err)
		w.WriteHeader(http.StatusBadGateway)
	}

	return proxy
}

func applyPathFilters(cr *CompiledRoute, req *http.Request) {
	for _, f := range cr.filters {
		if f.stripBasePath != nil {
			req.URL.Path = stripSegments(req.URL.Path, *f.stripBasePath)
		}
		if f.rewritePath != nil {
			req.URL.Path = f.rewritePath.pattern.ReplaceAllString(req.URL.Path, f.rewritePath.replacement)
		}
	}
}

func stripSegments(path string, n int) string {
	trimmed := strings.TrimPrefix(path, "/")
	segments := strings.Split(trimmed, "/")
	if n >= len(segments) {
		return "/"
	}
	return "/" + strings.Join(segments[n:], "/")
}

// applyCookieAffinity re-emits any Set-Cookie header whose Path matches a
// configured FromPath, also with Path rewritten to ToPath, so the browser
// carries the cookie back on both the original and the rewritten route
// (spec §4.9).
func applyCookieAffinity(cr *CompiledRoute, resp *http.Response) {
	var affinities []*model.CookieAffinityFilter
	for _, f := range cr.filters {
		if f.cookieAffinity != nil {
			affinities = append(affinities, f.cookieAffinity)
		}
	}
	if len(affinities) == 0 {
		return
	}

	existing := resp.Header.Values("Set-Cookie")
	var additions []string
	for _, raw := range existing {
		for _, aff := range affinities {
			if !strings.HasPrefix(raw, aff.Name+"=") {
				continue
			}
			if !strings.Contains(raw, "Path="+aff.FromPath) {
				continue
			}
			additions = append(additions, strings.Replace(raw, "Path="+aff.FromPath, "Path="+aff.ToPath, 1))
		}
	}
	for _, a := range additions {
		resp.Header.Add("Set-Cookie", a)
	}
}
