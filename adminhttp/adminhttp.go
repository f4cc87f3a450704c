// Package adminhttp is the gateway's operational sidecar: a small Echo
// HTTP surface with a liveness probe and a debug endpoint listing active
// IRC-to-Matrix sessions, gated by an admin token header exactly like
// the teacher's ensureAdminAccess guards its internal endpoints. It has
// no part in the IRC wire protocol; the gateway's own state is the only
// thing it reads.
package adminhttp

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// adminTokenHeader mirrors the teacher's X-Super-Admin-Token, renamed
// for this gateway's own admin surface.
const adminTokenHeader = "X-Admin-Token"

// SessionSnapshot describes one live IRC session for /debug/sessions.
type SessionSnapshot struct {
	RemoteAddr     string `json:"remote_addr"`
	Nick           string `json:"nick"`
	Registered     bool   `json:"registered"`
	ChannelCount   int    `json:"channel_count"`
	JoinedChannels int    `json:"joined_channels"`
}

// Registry is the subset of ircserver.Server the admin surface reads
// from, kept as an interface so it can be exercised with a fake.
type Registry interface {
	Sessions() []SessionSnapshot
}

// handler holds the dependencies shared by the route handlers.
type handler struct {
	registry   Registry
	adminToken string
}

// New builds an Echo instance with the admin routes registered. It does
// not start listening; call the returned instance's Start once built.
func New(registry Registry, adminToken string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	h := handler{registry: registry, adminToken: adminToken}
	e.GET("/healthz", h.healthz)
	e.GET("/debug/sessions", h.debugSessions)

	return e
}

func (h handler) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h handler) debugSessions(c echo.Context) error {
	if err := h.ensureAdminAccess(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.registry.Sessions())
}

func (h handler) ensureAdminAccess(c echo.Context) error {
	if h.adminToken == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "admin token not configured")
	}
	token := c.Request().Header.Get(adminTokenHeader)
	if token == "" || token != h.adminToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
	}
	return nil
}
