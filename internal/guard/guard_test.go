package guard

import (
	"testing"

	"ecodispose/client/internal/model"
)

func TestDecide(t *testing.T) {
	user := &model.User{ID: "1", Role: model.RoleUser}
	admin := &model.User{ID: "2", IsAdmin: true}

	tests := []struct {
		name    string
		session *model.User
		req     Requirement
		want    Decision
	}{
		{"anonymous public", nil, None, Decision{Action: Proceed}},
		{"anonymous auth", nil, Auth, Decision{Action: Redirect, Target: LoginPath}},
		{"anonymous user route", nil, User, Decision{Action: Redirect, Target: LoginPath}},
		{"anonymous admin", nil, Admin, Decision{Action: Redirect, Target: LoginPath}},
		{"anonymous guest", nil, Guest, Decision{Action: Proceed}},
		{"user guest route", user, Guest, Decision{Action: Redirect, Target: ProfilePath}},
		{"admin guest route", admin, Guest, Decision{Action: Redirect, Target: ProfilePath}},
		{"user admin route", user, Admin, Decision{Action: Redirect, Target: HomePath}},
		{"admin admin route", admin, Admin, Decision{Action: Proceed}},
		{"user user route", user, User, Decision{Action: Proceed}},
		{"admin auth route", admin, Auth, Decision{Action: Proceed}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.session, tc.req); got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestDecideRoleString(t *testing.T) {
	if got := Decide(&model.User{Role: "Admin"}, Admin); got.Action != Proceed {
		t.Fatalf("role admin should pass, got %+v", got)
	}
}

func TestNavigate(t *testing.T) {
	table := NewTable(DefaultRoutes())
	user := &model.User{ID: "1"}
	admin := &model.User{ID: "2", Role: model.RoleAdmin}

	tests := []struct {
		name       string
		path       string
		session    *model.User
		wantPath   string
		wantView   string
		redirected bool
		notFound   bool
	}{
		{"root alias", "/", nil, "/home", "home", true, false},
		{"public", "/about", nil, "/about", "about", false, false},
		{"list anonymous", "/list", nil, "/login", "login", true, false},
		{"login with session", "/login", user, "/profile", "profile", true, false},
		{"admin as user", "/admin", user, "/home", "home", true, false},
		{"admin as admin", "/admin", admin, "/admin", "admin", false, false},
		{"nested auth", "/profile/edit/", user, "/profile/edit", "profile-edit", false, false},
		{"query ignored", "/upload?x=1", user, "/upload", "upload", false, false},
		{"unknown", "/nope", nil, "/nope", NotFoundView, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nav := table.Navigate(tc.path, tc.session)
			if nav.Path != tc.wantPath || nav.View != tc.wantView || nav.Redirected != tc.redirected || nav.NotFound != tc.notFound {
				t.Fatalf("unexpected navigation %+v", nav)
			}
		})
	}
}

func TestNavigateStopsOnLoops(t *testing.T) {
	table := NewTable([]Route{
		{Path: "/a", RedirectTo: "/b"},
		{Path: "/b", RedirectTo: "/a"},
	})
	nav := table.Navigate("/a", nil)
	if !nav.NotFound {
		t.Fatalf("expected loop to end as not found, got %+v", nav)
	}
}
