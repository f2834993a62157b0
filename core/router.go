package core

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

// RouterDeps are the collaborators NewRouter wires together. Cache, Audit,
// AuditLog, Permissions and Metrics are optional.
type RouterDeps struct {
	Cookies     *sessions.CookieStore
	Storage     StorageFactory
	Backend     AdminBackend
	Cache       ValidationCache
	Audit       AuditRecorder
	AuditLog    AuditLister
	Permissions *PermissionTable
	Metrics     *SessionMetrics
}

// Gateway holds the per-process state shared by all handlers.
type Gateway struct {
	cfg       Config
	backend   AdminBackend
	cache     ValidationCache
	audit     AuditRecorder
	auditLog  AuditLister
	perms     *PermissionTable
	metrics   *SessionMetrics
	startedAt time.Time
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) *gin.Engine {
	g := &Gateway{
		cfg:       cfg,
		backend:   deps.Backend,
		cache:     deps.Cache,
		audit:     deps.Audit,
		auditLog:  deps.AuditLog,
		perms:     deps.Permissions,
		metrics:   deps.Metrics,
		startedAt: time.Now(),
	}
	if g.cache == nil {
		g.cache = NoValidationCache{}
	}
	if g.audit == nil {
		g.audit = LogAuditRecorder{}
	}
	if g.perms == nil {
		g.perms = DefaultPermissions()
	}
	storage := deps.Storage
	if storage == nil {
		storage = CookieStorageFactory{}
	}

	r := gin.Default()
	r.SetHTMLTemplate(loadTemplates())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.StaticDir != "" {
		r.Static("/assets", cfg.StaticDir)
	}

	// Origin/CORS -> session -> CSRF, for everything but health and assets.
	app := r.Group("/")
	app.Use(OriginRefererMiddleware(cfg))
	app.Use(SessionMiddleware(cfg, deps.Cookies, storage))
	app.Use(CSRFMiddleware(cfg, deps.Cookies))

	app.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, landingPath)
	})
	app.GET(loginPath, g.loginPage)
	app.GET("/forgot-password", g.publicPage("Forgot password"))
	app.GET("/reset-password/:uid/:token", g.publicPage("Reset password"))
	for _, p := range adminPages {
		app.GET(p.Path, g.protect(p.Permission), g.pageHandler(p))
	}
	app.POST("/graphql", g.protect(""), g.handleGraphQL)

	api := app.Group("/api/v1")
	{
		api.POST("/auth/login", g.handleLogin)
		api.POST("/auth/logout", g.handleLogout)
		api.POST("/auth/password/forgot", g.handleForgotPassword)
		api.POST("/auth/password/reset", g.handleResetPassword)
		api.GET("/session", g.handleSession)
		api.POST("/session/refetch", g.protect(""), g.handleRefetch)
		api.PATCH("/profile", g.protect(""), g.handleUpdateProfile)

		admin := api.Group("/admin")
		admin.GET("/system/status", g.protect("/settings"), g.handleSystemStatus)
		admin.GET("/audit", g.protect("/users"), g.handleAuditList)
	}

	return r
}

func (g *Gateway) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
		Next     string `json:"next"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required")
		return
	}

	auth := g.newAuth(c)
	auth.Bootstrap()
	res, err := auth.Login(c.Request.Context(), req.Username, req.Password, req.Remember)
	if err == nil {
		if rerr := rotateSession(c); rerr != nil {
			log.Printf("rotate session after login: %v", rerr)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to rotate session")
			return
		}
	}
	notices := drainNotices(sessionFrom(c))
	if !g.commit(c) {
		return
	}

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"user":     res.User,
			"redirect": safeNext(req.Next),
			"notices":  notices,
		})
	case errors.Is(err, ErrRoleDenied):
		respondErrorWithNotices(c, http.StatusForbidden, "FORBIDDEN", msgAccessDenied, notices)
	case errors.Is(err, ErrInvalidCredentials):
		respondErrorWithNotices(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", noticeMessage(notices, msgLoginFailed), notices)
	default:
		log.Printf("login user=%q: %v", req.Username, err)
		respondErrorWithNotices(c, http.StatusBadGateway, "BACKEND_ERROR", msgLoginFailed, notices)
	}
}

// noticeMessage returns the last error notice, which carries the backend's
// wording for a failed sign-in.
func noticeMessage(notices []Notice, fallback string) string {
	for i := len(notices) - 1; i >= 0; i-- {
		if notices[i].Level == NoticeError && notices[i].Message != "" {
			return notices[i].Message
		}
	}
	return fallback
}

func (g *Gateway) handleLogout(c *gin.Context) {
	auth := g.newAuth(c)
	auth.Bootstrap()
	auth.Logout()
	if err := rotateSession(c); err != nil {
		log.Printf("rotate session after logout: %v", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to rotate session")
		return
	}
	if !g.commit(c) {
		return
	}
	c.Status(http.StatusNoContent)
}

// handleSession is the page-load entry point of the admin UI.
func (g *Gateway) handleSession(c *gin.Context) {
	snap := g.auth(c).Snapshot()
	notices := drainNotices(sessionFrom(c))
	if !g.commit(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":          snap,
		"accessible_pages": g.perms.AccessiblePages(snap.Role()),
		"notices":          notices,
	})
}

func (g *Gateway) handleRefetch(c *gin.Context) {
	user, err := g.auth(c).RefetchUser(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
			return
		}
		log.Printf("refetch user: %v", err)
		respondError(c, http.StatusBadGateway, "BACKEND_ERROR", backendMessage(err, "failed to refresh user"))
		return
	}
	if !g.commit(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (g *Gateway) handleUpdateProfile(c *gin.Context) {
	var in ProfileUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	c.JSON(http.StatusOK, g.auth(c).UpdateProfile(c.Request.Context(), in))
}

func (g *Gateway) handleForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "email is required")
		return
	}
	res, err := g.backend.RequestPasswordReset(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		respondError(c, http.StatusBadGateway, "BACKEND_ERROR", backendMessage(err, "password reset failed"))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) handleResetPassword(c *gin.Context) {
	var req struct {
		UID         string `json:"uid"`
		Token       string `json:"token"`
		Username    string `json:"username"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	if req.UID == "" || req.Token == "" || strings.TrimSpace(req.Username) == "" || req.NewPassword == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "uid, token, username and newPassword are required")
		return
	}
	res, err := g.backend.ResetPassword(c.Request.Context(), req.UID, req.Token, req.Username, req.NewPassword)
	if err != nil {
		respondError(c, http.StatusBadGateway, "BACKEND_ERROR", backendMessage(err, "password reset failed"))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) handleSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), g.cfg.SessionBackend, g.metrics, g.startedAt))
}

func (g *Gateway) handleAuditList(c *gin.Context) {
	if g.auditLog == nil {
		respondError(c, http.StatusServiceUnavailable, "AUDIT_DISABLED", "audit log is not configured")
		return
	}
	page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	items, total, err := g.auditLog.List(c.Request.Context(), page, perPage)
	if err != nil {
		log.Printf("audit list: %v", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load audit log")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"page":        page,
		"per_page":    perPage,
		"total":       total,
		"total_pages": calcTotalPages(total, perPage),
	})
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
