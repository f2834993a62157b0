package core

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// renderShell serves the admin UI entry document for a page.
func (g *Gateway) renderShell(c *gin.Context, status int, title string, snap Snapshot) {
	data := gin.H{
		"Title":     title,
		"Page":      c.Request.URL.Path,
		"Next":      c.Query("next"),
		"Assets":    g.cfg.StaticDir != "",
		"CSRFToken": c.Writer.Header().Get("X-CSRF-Token"),
	}
	if snap.User != nil {
		data["User"] = snap.User
		data["Role"] = snap.Role()
	}
	c.HTML(status, "shell.html", data)
}

func (g *Gateway) pageHandler(p pageRoute) gin.HandlerFunc {
	return func(c *gin.Context) {
		g.renderShell(c, http.StatusOK, p.Title, g.auth(c).Snapshot())
	}
}

// publicPage serves pages reachable without a session (password reset).
func (g *Gateway) publicPage(title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		g.renderShell(c, http.StatusOK, title, Snapshot{State: StateAnonymous})
	}
}

// loginPage sends already signed-in users straight to their destination.
func (g *Gateway) loginPage(c *gin.Context) {
	snap := g.auth(c).Snapshot()
	if !g.commit(c) {
		return
	}
	if snap.IsAuthenticated && !snap.Loading {
		c.Redirect(http.StatusFound, safeNext(c.Query("next")))
		return
	}
	g.renderShell(c, http.StatusOK, "Sign in", snap)
}
