package core

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is a CRUD verb granted to a role.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func parseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Grant is the set of pages and actions allowed for one role.
type Grant struct {
	Pages   map[string]struct{}
	Actions map[Action]struct{}
}

// Operation binds a GraphQL operation name to the page and action it needs,
// and to the stored document the gateway sends for it.
type Operation struct {
	Name     string
	Page     string
	Action   Action
	Document string
}

// PermissionTable is the static role -> grant mapping. It is read-only after load.
type PermissionTable struct {
	roles      map[Role]Grant
	operations map[string]Operation
}

//go:embed permissions.yaml
var defaultPermissionsYAML []byte

//go:embed operations/*.graphql
var defaultOperations embed.FS

var operationHeader = regexp.MustCompile(`^\s*(query|mutation|subscription)\s+([_A-Za-z][_0-9A-Za-z]*)`)
var operationKeyword = regexp.MustCompile(`(?m)^\s*(query|mutation|subscription)\b`)

type permissionsFile struct {
	Roles map[string]struct {
		Pages   []string `yaml:"pages"`
		Actions []string `yaml:"actions"`
	} `yaml:"roles"`
	Operations map[string]struct {
		Page   string `yaml:"page"`
		Action string `yaml:"action"`
	} `yaml:"operations"`
}

// DefaultPermissions returns the embedded permission table.
func DefaultPermissions() *PermissionTable {
	docs, err := fs.Sub(defaultOperations, "operations")
	if err != nil {
		panic(err)
	}
	t, err := LoadPermissionTable(defaultPermissionsYAML, docs)
	if err != nil {
		panic(fmt.Sprintf("embedded permissions.yaml: %v", err))
	}
	return t
}

// LoadPermissionTable parses a YAML table. It fails unless every known role
// has exactly one entry and nothing else is declared. Each operation's
// document is read from <name>.graphql in docs and must define exactly that
// one operation.
func LoadPermissionTable(data []byte, docs fs.FS) (*PermissionTable, error) {
	var f permissionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse permissions: %w", err)
	}

	t := &PermissionTable{
		roles:      make(map[Role]Grant, len(KnownRoles)),
		operations: make(map[string]Operation, len(f.Operations)),
	}
	for name, entry := range f.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		if string(role) != name {
			return nil, fmt.Errorf("role %q must be written in lower case", name)
		}
		g := Grant{Pages: map[string]struct{}{}, Actions: map[Action]struct{}{}}
		for _, p := range entry.Pages {
			if !strings.HasPrefix(p, "/") {
				return nil, fmt.Errorf("role %s: page %q must start with /", name, p)
			}
			g.Pages[p] = struct{}{}
		}
		for _, a := range entry.Actions {
			act, err := parseAction(a)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", name, err)
			}
			g.Actions[act] = struct{}{}
		}
		t.roles[role] = g
	}
	var missing []string
	for _, r := range KnownRoles {
		if _, ok := t.roles[r]; !ok {
			missing = append(missing, string(r))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("permissions missing for roles: %s", strings.Join(missing, ", "))
	}

	for name, op := range f.Operations {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("operation with empty name")
		}
		act, err := parseAction(op.Action)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", name, err)
		}
		if op.Page != "" && !strings.HasPrefix(op.Page, "/") {
			return nil, fmt.Errorf("operation %s: page %q must start with /", name, op.Page)
		}
		doc, err := loadDocument(docs, name)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", name, err)
		}
		t.operations[name] = Operation{Name: name, Page: op.Page, Action: act, Document: doc}
	}
	return t, nil
}

func loadDocument(docs fs.FS, name string) (string, error) {
	if docs == nil {
		return "", errors.New("no stored documents")
	}
	raw, err := fs.ReadFile(docs, name+".graphql")
	if err != nil {
		return "", fmt.Errorf("stored document: %w", err)
	}
	doc := strings.TrimSpace(string(raw))
	m := operationHeader.FindStringSubmatch(doc)
	if m == nil {
		return "", errors.New("stored document does not start with a named operation")
	}
	if m[2] != name {
		return "", fmt.Errorf("stored document defines %q", m[2])
	}
	if n := len(operationKeyword.FindAllStringIndex(doc, -1)); n != 1 {
		return "", fmt.Errorf("stored document defines %d operations", n)
	}
	return doc, nil
}

func (t *PermissionTable) grantFor(role string) (Grant, bool) {
	if t == nil || role == "" {
		return Grant{}, false
	}
	g, ok := t.roles[Role(strings.ToLower(role))]
	return g, ok
}

// CanAccess reports whether role may view page. Unknown roles get nothing.
func (t *PermissionTable) CanAccess(role, page string) bool {
	if page == "" {
		return false
	}
	g, ok := t.grantFor(role)
	if !ok {
		return false
	}
	_, ok = g.Pages[page]
	return ok
}

// CanPerform reports whether role may perform action.
func (t *PermissionTable) CanPerform(role string, action Action) bool {
	g, ok := t.grantFor(role)
	if !ok {
		return false
	}
	_, ok = g.Actions[action]
	return ok
}

// AccessiblePages returns the sorted page list for role.
func (t *PermissionTable) AccessiblePages(role string) []string {
	g, ok := t.grantFor(role)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(g.Pages))
	for p := range g.Pages {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RolesWithPage lists, lowest rank first, the roles allowed to view page.
func (t *PermissionTable) RolesWithPage(page string) []Role {
	var out []Role
	for i := len(KnownRoles) - 1; i >= 0; i-- {
		r := KnownRoles[i]
		if t.CanAccess(string(r), page) {
			out = append(out, r)
		}
	}
	return out
}

// Operation looks up a forwarded GraphQL operation by name.
func (t *PermissionTable) Operation(name string) (Operation, bool) {
	if t == nil {
		return Operation{}, false
	}
	op, ok := t.operations[name]
	return op, ok
}

// CanRun decides whether role may run op: the action must be granted and,
// when the operation is tied to a page, the page as well.
func (t *PermissionTable) CanRun(role string, op Operation) bool {
	if !t.CanPerform(role, op.Action) {
		return false
	}
	if op.Page == "" {
		return true
	}
	return t.CanAccess(role, op.Page)
}
