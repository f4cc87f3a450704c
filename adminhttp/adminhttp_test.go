package adminhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRegistry struct {
	sessions []SessionSnapshot
}

func (f fakeRegistry) Sessions() []SessionSnapshot { return f.sessions }

func TestHealthzIsUnauthenticated(t *testing.T) {
	e := New(fakeRegistry{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugSessionsRequiresToken(t *testing.T) {
	e := New(fakeRegistry{sessions: []SessionSnapshot{{Nick: "alice"}}}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDebugSessionsReturnsSnapshot(t *testing.T) {
	e := New(fakeRegistry{sessions: []SessionSnapshot{{Nick: "alice", Registered: true, ChannelCount: 2}}}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")
}

func TestDebugSessionsWithoutConfiguredTokenIs500(t *testing.T) {
	e := New(fakeRegistry{}, "")

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	req.Header.Set("X-Admin-Token", "anything")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
