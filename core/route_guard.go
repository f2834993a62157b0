package core

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	loginPath   = "/login"
	landingPath = "/dashboard"
)

// RouteDecision is the outcome of route protection for one request.
type RouteDecision int

const (
	// DecisionDefer renders nothing while the session is still settling.
	DecisionDefer RouteDecision = iota
	DecisionRedirectLogin
	DecisionRender
	DecisionForbidden
)

func (d RouteDecision) String() string {
	switch d {
	case DecisionDefer:
		return "defer"
	case DecisionRedirectLogin:
		return "redirect-login"
	case DecisionRender:
		return "render"
	case DecisionForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// DecideRoute applies the protection steps in order: loading, anonymous,
// no declared permission, then the permission table.
func DecideRoute(snap Snapshot, permission string, perms *PermissionTable) RouteDecision {
	if snap.Loading {
		return DecisionDefer
	}
	if !snap.IsAuthenticated {
		return DecisionRedirectLogin
	}
	if permission == "" {
		return DecisionRender
	}
	if perms.CanAccess(snap.Role(), permission) {
		return DecisionRender
	}
	return DecisionForbidden
}

// pageRoute is one guarded admin screen.
type pageRoute struct {
	Path       string
	Permission string
	Title      string
}

var adminPages = []pageRoute{
	{Path: "/dashboard", Permission: "/dashboard", Title: "Dashboard"},
	{Path: "/articles", Permission: "/articles", Title: "Articles"},
	{Path: "/create-article", Permission: "/articles", Title: "Create article"},
	{Path: "/categories", Permission: "/categories", Title: "Categories"},
	{Path: "/tags", Permission: "/tags", Title: "Tags"},
	{Path: "/users", Permission: "/users", Title: "Users"},
	{Path: "/contact", Permission: "/contact", Title: "Contact"},
	{Path: "/media", Permission: "/contact", Title: "Media"},
	{Path: "/settings", Permission: "/settings", Title: "Settings"},
	{Path: "/profile", Permission: "", Title: "Profile"},
}

// protect guards a route with DecideRoute. Page requests are redirected to
// the login page or shown the 403 view; API requests get JSON errors.
func (g *Gateway) protect(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := g.auth(c)
		snap := auth.Snapshot()
		decision := DecideRoute(snap, permission, g.perms)
		// Validation may have cleared storage; persist before any body is written.
		if !g.commit(c) {
			return
		}

		switch decision {
		case DecisionDefer:
			c.AbortWithStatus(http.StatusNoContent)
		case DecisionRedirectLogin:
			next := c.Request.URL.RequestURI()
			if wantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{"code": "UNAUTHORIZED", "message": "login required"},
					"next":  next,
				})
				return
			}
			c.Redirect(http.StatusFound, loginURL(next))
			c.Abort()
		case DecisionForbidden:
			current, required := roleLabels(snap, permission, g.perms)
			if wantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":         gin.H{"code": "FORBIDDEN", "message": "no permission for " + permission},
					"current_role":  current,
					"required_role": required,
				})
				return
			}
			c.HTML(http.StatusForbidden, "forbidden.html", gin.H{
				"CurrentRole":  current,
				"RequiredRole": required,
			})
			c.Abort()
		default:
			c.Next()
		}
	}
}

// roleLabels returns the display names for the 403 view: the user's role and
// the lowest role that may open the page.
func roleLabels(snap Snapshot, permission string, perms *PermissionTable) (current, required string) {
	current = Role("").DisplayName()
	if r, err := ParseRole(snap.Role()); err == nil {
		current = r.DisplayName()
	}
	required = RoleAdmin.DisplayName()
	if roles := perms.RolesWithPage(permission); len(roles) > 0 {
		required = roles[0].DisplayName()
	}
	return current, required
}

func wantsJSON(c *gin.Context) bool {
	p := c.Request.URL.Path
	if strings.HasPrefix(p, "/api/") || p == "/graphql" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

func loginURL(next string) string {
	return loginPath + "?next=" + url.QueryEscape(next)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return landingPath
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return landingPath
	}
	if u.Path == loginPath {
		return landingPath
	}
	return next
}
