// Package errorpages implements the Error Converter (C11, spec §4.11): for
// idempotent, HTML-accepting requests, upstream 4xx/5xx responses are
// converted into a locally rendered error page keyed by status code,
// falling back to a generic template.
//
// Response capture is grounded on the teacher's responseWriter wrapper in
// pkg/audit/auditor.go (status/body capture via a wrapping
// http.ResponseWriter); rendering uses stdlib html/template, since no
// templating library appears in the pack for standalone page rendering
// (the teacher's own HTML surfaces, where present, are server-rendered
// admin UI, not end-user error pages).
package errorpages

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/georchestra/gateway/pkg/logger"
)

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

const genericTemplate = `<!DOCTYPE html>
<html><head><title>{{.Status}}</title></head>
<body><h1>{{.Status}} {{.StatusText}}</h1><p>{{.Message}}</p></body></html>`

// Converter renders status-keyed error pages. Templates is keyed by status
// code (e.g. 503); entries absent from the map render genericTemplate.
type Converter struct {
	templates map[int]*template.Template
	generic   *template.Template
}

// New parses pageSource (status code -> raw html/template source) plus the
// fallback generic page (spec §4.11).
func New(pageSource map[int]string) (*Converter, error) {
	c := &Converter{templates: make(map[int]*template.Template, len(pageSource))}

	generic, err := template.New("generic").Parse(genericTemplate)
	if err != nil {
		return nil, err
	}
	c.generic = generic

	for status, src := range pageSource {
		tmpl, err := template.New(http.StatusText(status)).Parse(src)
		if err != nil {
			return nil, err
		}
		c.templates[status] = tmpl
	}
	return c, nil
}

// ShouldConvert reports whether, per spec §4.11, status/method/Accept
// qualify for conversion: status in 4xx/5xx, method idempotent, and Accept
// includes text/html.
func ShouldConvert(status int, method string, accept string) bool {
	if status < 400 {
		return false
	}
	if !idempotentMethods[method] {
		return false
	}
	return strings.Contains(accept, "text/html")
}

type pageData struct {
	Status     int
	StatusText string
	Message    string
}

// Render discards the upstream body and writes a rendered error page for
// status to w (spec §4.11).
func (c *Converter) Render(w http.ResponseWriter, status int) {
	tmpl, ok := c.templates[status]
	if !ok {
		tmpl = c.generic
	}

	var buf bytes.Buffer
	data := pageData{Status: status, StatusText: http.StatusText(status), Message: "An error occurred while processing your request."}
	if err := tmpl.Execute(&buf, data); err != nil {
		logger.Errorf("render error page for status %d: %v", status, err)
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// CapturingWriter buffers the upstream response so the Error Converter can
// decide, once headers (and therefore status) are known, whether to
// discard the body and render a page instead (spec §4.11's "applied either
// globally or per-route; order: highest precedence so it can preempt the
// body committing").
type CapturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
	passthrough bool
}

// NewCapturingWriter wraps w.
func NewCapturingWriter(w http.ResponseWriter) *CapturingWriter {
	return &CapturingWriter{ResponseWriter: w}
}

// WriteHeader records the status without yet committing it; the caller
// reads Status() and then either calls Commit() or renders its own page
// and drops the buffered body.
func (c *CapturingWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.status = status
	c.wroteHeader = true
}

// Write buffers the body (status defaults to 200 if WriteHeader was never
// called, matching net/http.ResponseWriter semantics).
func (c *CapturingWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.buf.Write(p)
}

// Status returns the recorded status, defaulting to 200.
func (c *CapturingWriter) Status() int {
	if !c.wroteHeader {
		return http.StatusOK
	}
	return c.status
}

// Commit flushes the buffered status/body to the underlying writer
// unchanged (used when the Converter decides not to intervene).
func (c *CapturingWriter) Commit() {
	c.ResponseWriter.WriteHeader(c.Status())
	_, _ = c.ResponseWriter.Write(c.buf.Bytes())
}
