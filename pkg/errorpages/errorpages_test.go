package errorpages

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldConvert_S6Scenario(t *testing.T) {
	assert.True(t, ShouldConvert(503, http.MethodGet, "text/html,*/*"))
	assert.False(t, ShouldConvert(200, http.MethodGet, "text/html"))
	assert.False(t, ShouldConvert(503, http.MethodPost, "text/html"))
	assert.False(t, ShouldConvert(503, http.MethodGet, "application/json"))
}

func TestRender_UsesStatusSpecificTemplate(t *testing.T) {
	conv, err := New(map[int]string{503: `<html><body>custom {{.Status}}</body></html>`})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	conv.Render(rec, 503)

	assert.Equal(t, 503, rec.Code)
	assert.Contains(t, rec.Body.String(), "custom 503")
}

func TestRender_FallsBackToGenericTemplate(t *testing.T) {
	conv, err := New(nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	conv.Render(rec, 404)

	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Body.String(), "404")
}

func TestCapturingWriter_BuffersUntilCommit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewCapturingWriter(rec)

	cw.WriteHeader(503)
	_, _ = cw.Write([]byte("upstream body"))

	assert.Equal(t, 503, cw.Status())
	assert.Equal(t, 200, rec.Code, "underlying writer must not see the status until Commit")

	cw.Commit()
	assert.Equal(t, 503, rec.Code)
	assert.Equal(t, "upstream body", rec.Body.String())
}

func TestCapturingWriter_DefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewCapturingWriter(rec)
	_, _ = cw.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, cw.Status())
}
