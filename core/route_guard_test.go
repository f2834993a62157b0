package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideRoute(t *testing.T) {
	perms := DefaultPermissions()
	manager := testUser("manager")
	writer := testUser("writer")

	cases := []struct {
		name       string
		snap       Snapshot
		permission string
		want       RouteDecision
	}{
		{"bootstrapping", Snapshot{State: StateBootstrapping, Loading: true}, "/users", DecisionDefer},
		{"optimistic still loading", Snapshot{State: StateOptimisticallyAuthenticated, Loading: true, IsAuthenticated: true, User: &manager}, "/users", DecisionDefer},
		{"anonymous", Snapshot{State: StateAnonymous}, "/articles", DecisionRedirectLogin},
		{"anonymous without permission", Snapshot{State: StateAnonymous}, "", DecisionRedirectLogin},
		{"no permission declared", Snapshot{State: StateAuthenticated, IsAuthenticated: true, User: &writer}, "", DecisionRender},
		{"allowed", Snapshot{State: StateAuthenticated, IsAuthenticated: true, User: &manager}, "/articles", DecisionRender},
		{"denied", Snapshot{State: StateAuthenticated, IsAuthenticated: true, User: &manager}, "/users", DecisionForbidden},
		{"no user", Snapshot{State: StateAuthenticated, IsAuthenticated: true}, "/dashboard", DecisionForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecideRoute(tc.snap, tc.permission, perms), tc.want.String())
		})
	}
}

func TestRoleLabels(t *testing.T) {
	perms := DefaultPermissions()
	manager := testUser("manager")

	current, required := roleLabels(Snapshot{User: &manager}, "/users", perms)
	assert.Equal(t, "Manager", current)
	assert.Equal(t, "Admin", required)

	current, required = roleLabels(Snapshot{}, "/articles", perms)
	assert.Equal(t, "Unknown", current)
	assert.Equal(t, "Writer", required)
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                     "/dashboard",
		"/articles":            "/articles",
		"/articles?page=2#top": "/articles?page=2#top",
		"//evil.example":       "/dashboard",
		"/\\evil.example":      "/dashboard",
		"https://evil.example": "/dashboard",
		"articles":             "/dashboard",
		"/login?next=/users":   "/dashboard",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeNext(in), "safeNext(%q)", in)
	}
	assert.Equal(t, "/login?next=%2Farticles%3Fpage%3D2", loginURL("/articles?page=2"))
}

func TestAdminPagesAreInPermissionTable(t *testing.T) {
	perms := DefaultPermissions()
	for _, p := range adminPages {
		if p.Permission == "" {
			continue
		}
		assert.NotEmpty(t, perms.RolesWithPage(p.Permission), "page %s guarded by %s", p.Path, p.Permission)
	}
}
