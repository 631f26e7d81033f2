// Package guard decides whether a navigation may proceed given the current
// session.
package guard

import (
	"strings"

	"ecodispose/client/internal/model"
)

type Requirement string

const (
	None  Requirement = ""
	Auth  Requirement = "auth"
	User  Requirement = "user"
	Guest Requirement = "guest"
	Admin Requirement = "admin"
)

const (
	LoginPath   = "/login"
	ProfilePath = "/profile"
	HomePath    = "/home"
)

type Action string

const (
	Proceed  Action = "proceed"
	Redirect Action = "redirect"
)

type Decision struct {
	Action Action
	Target string
}

// Decide applies the guard rules in order; the first match wins. A nil
// session means anonymous.
func Decide(session *model.User, req Requirement) Decision {
	switch {
	case (req == Auth || req == User || req == Admin) && session == nil:
		return Decision{Action: Redirect, Target: LoginPath}
	case req == Guest && session != nil:
		return Decision{Action: Redirect, Target: ProfilePath}
	case req == Admin && (session == nil || !session.Admin()):
		return Decision{Action: Redirect, Target: HomePath}
	default:
		return Decision{Action: Proceed}
	}
}

type Route struct {
	Path        string
	View        string
	Requirement Requirement
	// RedirectTo makes the route an unconditional alias.
	RedirectTo string
}

// Table is the set of navigable routes. Unknown paths resolve to the
// not-found view.
type Table struct {
	routes map[string]Route
}

const NotFoundView = "not-found"

const maxHops = 8

func NewTable(routes []Route) *Table {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		t.routes[normalize(r.Path)] = r
	}
	return t
}

func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", RedirectTo: HomePath},
		{Path: "/home", View: "home"},
		{Path: "/about", View: "about"},
		{Path: "/login", View: "login", Requirement: Guest},
		{Path: "/register", View: "register", Requirement: Guest},
		{Path: "/upload", View: "upload", Requirement: User},
		{Path: "/list", View: "listings", Requirement: User},
		{Path: "/admin", View: "admin", Requirement: Admin},
		{Path: "/profile", View: "profile", Requirement: Auth},
		{Path: "/profile/edit", View: "profile-edit", Requirement: Auth},
	}
}

func (t *Table) Lookup(path string) (Route, bool) {
	r, ok := t.routes[normalize(path)]
	return r, ok
}

// Navigation is where a request for a path ends up.
type Navigation struct {
	Requested  string
	Path       string
	View       string
	Redirected bool
	NotFound   bool
}

// Navigate follows aliases and guard redirects from path until a view is
// reached.
func (t *Table) Navigate(path string, session *model.User) Navigation {
	nav := Navigation{Requested: path}
	current := normalize(path)
	for hop := 0; hop < maxHops; hop++ {
		route, ok := t.routes[current]
		if !ok {
			nav.Path = current
			nav.View = NotFoundView
			nav.NotFound = true
			return nav
		}
		if route.RedirectTo != "" {
			current = normalize(route.RedirectTo)
			nav.Redirected = true
			continue
		}
		decision := Decide(session, route.Requirement)
		if decision.Action == Redirect {
			current = normalize(decision.Target)
			nav.Redirected = true
			continue
		}
		nav.Path = current
		nav.View = route.View
		return nav
	}
	nav.Path = current
	nav.View = NotFoundView
	nav.NotFound = true
	return nav
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}
