// Package server provides the NetScan Gin-based REST API.
//
//	Public:          POST /api/login, GET /api/health
//	Protected (JWT): system status, interfaces, traffic scan control and history
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/netscan/internal/agent"
	"github.com/vesaa/netscan/internal/monitor"
	"github.com/vesaa/netscan/internal/traffic"
	"go.uber.org/zap"
)

// Scanner is the traffic monitor as seen by the API.
type Scanner interface {
	Activate(ctx context.Context) (string, error)
	Deactivate()
	Info() monitor.Info
}

// Telemetry provides host status and interface details.
type Telemetry interface {
	Status(ctx context.Context) (agent.Status, error)
	Interfaces(ctx context.Context) ([]agent.Interface, error)
	ExternalIP(ctx context.Context) (agent.ExternalIP, error)
}

// API bundles the handlers' dependencies.
type API struct {
	auth      *Auth
	scanner   Scanner
	telemetry Telemetry
	store     *Store
	log       *zap.Logger
}

// NewAPI wires the API. store may be nil, in which case history endpoints
// answer 503.
func NewAPI(auth *Auth, scanner Scanner, telemetry Telemetry, store *Store, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{auth: auth, scanner: scanner, telemetry: telemetry, store: store, log: log}
}

// Register wires up the API routes on the given engine.
func (a *API) Register(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", a.handleLogin)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", a.auth.Middleware())
	{
		auth.GET("/system/status", a.handleSystemStatus)
		auth.GET("/network/interfaces", a.handleInterfaces)
		auth.GET("/network/external-ip", a.handleExternalIP)

		auth.GET("/network/scan", a.handleScanInfo)
		auth.POST("/network/scan/start", a.handleScanStart)
		auth.POST("/network/scan/stop", a.handleScanStop)

		auth.GET("/network/anomalies", a.handleAnomalies)
		auth.GET("/network/sessions", a.handleSessions)
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (a *API) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if !a.auth.CheckCredentials(body.Username, body.Password) {
		a.log.Warn("login rejected", zap.String("username", body.Username), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := a.auth.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

func (a *API) handleSystemStatus(c *gin.Context) {
	st, err := a.telemetry.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": st, "summary": st.Summary()})
}

func (a *API) handleInterfaces(c *gin.Context) {
	ifaces, err := a.telemetry.Interfaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ifaces})
}

func (a *API) handleExternalIP(c *gin.Context) {
	ip, err := a.telemetry.ExternalIP(c.Request.Context())
	if err != nil {
		a.log.Debug("external IP lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "ip": traffic.NotAvailable})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ip})
}

// scanView is the display form of the monitor state.
type scanView struct {
	monitor.Info
	// Level is the display styling: ok, info, warning or alert.
	Level   string `json:"level"`
	Message string `json:"message"`
}

func newScanView(info monitor.Info) scanView {
	v := scanView{Info: info}
	switch {
	case info.State == monitor.StateInactive:
		v.Level, v.Message = "info", "Activate scan to monitor traffic rates and detect anomalies."
	case info.Latest == nil:
		v.Level, v.Message = "info", "Traffic scan activated. Waiting for interval."
	case info.Latest.Err != "":
		v.Level, v.Message = "warning", info.Latest.Headline
	case info.Latest.Report.Verdict == traffic.VerdictAnomalous:
		v.Level, v.Message = "alert", info.Latest.Headline
	case info.Latest.Report.Verdict.Informational():
		v.Level, v.Message = "info", info.Latest.Headline
	default:
		v.Level, v.Message = "ok", info.Latest.Headline
	}
	return v
}

func (a *API) handleScanInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": newScanView(a.scanner.Info())})
}

func (a *API) handleScanStart(c *gin.Context) {
	id, err := a.scanner.Activate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.log.Info("traffic scan started via API", zap.String("session", id), zap.String("by", c.GetString("username")))
	c.JSON(http.StatusOK, gin.H{"data": newScanView(a.scanner.Info())})
}

func (a *API) handleScanStop(c *gin.Context) {
	a.scanner.Deactivate()
	c.JSON(http.StatusOK, gin.H{"data": newScanView(a.scanner.Info())})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func historyLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit))
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, true
}

func (a *API) handleAnomalies(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
		return
	}
	limit, ok := historyLimit(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	events, err := a.store.RecentAnomalies(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (a *API) handleSessions(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
		return
	}
	limit, ok := historyLimit(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	sessions, err := a.store.Sessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}
