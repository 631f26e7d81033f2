package twin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/logging"
	"ecodispose/client/internal/model"
)

const seedYAML = `
users:
  - firstName: Root
    lastName: Admin
    email: admin@eco-dispose.com
    password: admin-pw
    isAdmin: true
  - firstName: Bob
    lastName: Builder
    email: bob@example.com
    password: bob-pw
    phoneNumber: "0600000000"
devices:
  - owner: bob@example.com
    name: Old laptop
    type: laptop
    defects: none
    userDescription: works
    status: waiting
`

type fixture struct {
	srv   *httptest.Server
	state *State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := NewState(bcrypt.MinCost)
	srv := httptest.NewServer(NewServer(Config{Secret: "test-secret"}, state, logging.Discard()).Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, state: state}
}

func (f *fixture) client(t *testing.T) *api.Client {
	t.Helper()
	c, err := api.New(f.srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	return c
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	if err := LoadSeed(f.state, []byte(seedYAML)); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func expectAPIError(t *testing.T, err error, status int, message string) {
	t.Helper()
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error %d, got %v", status, err)
	}
	if apiErr.StatusCode != status || apiErr.Message != message {
		t.Fatalf("expected %d %q, got %d %q", status, message, apiErr.StatusCode, apiErr.Message)
	}
}

func png(name string) api.File {
	return api.File{Name: name, Content: strings.NewReader("\x89PNG\r\n\x1a\nfake")}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := context.Background()

	reg := model.Registration{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "pw"}
	if err := c.Register(ctx, reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	expectAPIError(t, c.Register(ctx, reg), http.StatusConflict, "email already in use")

	staff := reg
	staff.Email = "ada@eco-dispose.com"
	expectAPIError(t, c.Register(ctx, staff), http.StatusConflict, "invalid email: cannot register with an eco-dispose email")

	missing := reg
	missing.Password = ""
	expectAPIError(t, c.Register(ctx, missing), http.StatusBadRequest, "missing required fields")

	_, err := c.Profile(ctx)
	if !api.IsUnauthorized(err) {
		t.Fatalf("expected 401 before login, got %v", err)
	}
	expectAPIError(t, err, http.StatusUnauthorized, "not allowed")

	_, err = c.Login(ctx, "nobody@example.com", "pw")
	expectAPIError(t, err, http.StatusNotFound, "user not found")
	_, err = c.Login(ctx, "ada@example.com", "nope")
	expectAPIError(t, err, http.StatusUnauthorized, "wrong credentials")

	u, err := c.Login(ctx, "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.ID != "1" || u.FirstName != "Ada" || u.Admin() {
		t.Fatalf("unexpected user %+v", u)
	}
	profile, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Email != "ada@example.com" || profile.Address == nil {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.Profile(ctx); !api.IsUnauthorized(err) {
		t.Fatalf("expected 401 after logout, got %v", err)
	}
}

func TestForgedSessionRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	bob, _ := f.state.userByEmail("bob@example.com")
	token, err := newSessionToken("other-secret", "eco-dispose-twin", time.Hour, bob)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/auth/profile", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestEditProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	c := f.client(t)
	ctx := context.Background()

	u, err := c.Login(ctx, "bob@example.com", "bob-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.PhoneNumber != "0600000000" {
		t.Fatalf("expected seeded phone, got %q", u.PhoneNumber)
	}

	u.FirstName = "Robert"
	u.Address = &model.Address{City: "Paris", ZipCode: "75001"}
	image := png("me.png")
	edited, err := c.EditProfile(ctx, u, &image)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.FirstName != "Robert" || edited.LastName != "Builder" {
		t.Fatalf("unexpected names %+v", edited)
	}
	if edited.Address == nil || edited.Address.City != "Paris" || edited.Address.Street != "" {
		t.Fatalf("unexpected address %+v", edited.Address)
	}
	if !strings.HasPrefix(edited.ProfileImageURL, uploadPrefix) || !strings.HasSuffix(edited.ProfileImageURL, ".png") {
		t.Fatalf("unexpected image url %q", edited.ProfileImageURL)
	}
	first := edited.ProfileImageURL

	resp, err := http.Get(c.URL(first))
	if err != nil {
		t.Fatalf("fetch upload: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(data), "\x89PNG") {
		t.Fatalf("unexpected upload response %d %q", resp.StatusCode, data)
	}

	second := png("again.png")
	edited, err = c.EditProfile(ctx, edited, &second)
	if err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if edited.ProfileImageURL == first {
		t.Fatal("expected a new image url")
	}
	if _, ok := f.state.upload(strings.TrimPrefix(first, uploadPrefix)); ok {
		t.Fatal("expected the replaced image to be removed")
	}

	bad := api.File{Name: "me.gif", Content: strings.NewReader("GIF89a")}
	_, err = c.EditProfile(ctx, edited, &bad)
	expectAPIError(t, err, http.StatusBadRequest, "Invalid image file")
}

func TestDeviceLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	bob := f.client(t)
	if _, err := bob.Login(ctx, "bob@example.com", "bob-pw"); err != nil {
		t.Fatalf("login bob: %v", err)
	}
	admin := f.client(t)
	if _, err := admin.Login(ctx, "admin@eco-dispose.com", "admin-pw"); err != nil {
		t.Fatalf("login admin: %v", err)
	}
	ada := f.client(t)
	if err := ada.Register(ctx, model.Registration{FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "pw"}); err != nil {
		t.Fatalf("register ada: %v", err)
	}
	if _, err := ada.Login(ctx, "ada@example.com", "pw"); err != nil {
		t.Fatalf("login ada: %v", err)
	}

	draft := model.Device{Name: "Phone", Type: "phone", Defects: "cracked", UserDescription: "old"}
	added, err := bob.AddDevice(ctx, draft, png("phone.png"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID != "2" || added.Status != model.StatusCollected || added.UserID == "" || added.UploadDate == "" {
		t.Fatalf("unexpected device %+v", added)
	}

	_, err = bob.AddDevice(ctx, draft, api.File{Name: "phone.bmp", Content: strings.NewReader("BM")})
	expectAPIError(t, err, http.StatusBadRequest, "Invalid image file")
	_, err = bob.AddDevice(ctx, model.Device{Name: "Phone"}, png("p.png"))
	expectAPIError(t, err, http.StatusBadRequest, "Missing required fields: name, type, defects, userDescription, or image")
	_, err = admin.AddDevice(ctx, draft, png("p.png"))
	expectAPIError(t, err, http.StatusForbidden, "Admins cannot add devices")

	own, err := bob.ListDevices(ctx)
	if err != nil || len(own) != 2 {
		t.Fatalf("expected bob's two devices, got %v %v", own, err)
	}
	if others, err := ada.ListDevices(ctx); err != nil || len(others) != 0 {
		t.Fatalf("expected ada to see nothing, got %v %v", others, err)
	}
	all, err := admin.ListDevices(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected admin to see every device, got %v %v", all, err)
	}

	_, err = ada.UpdateDevice(ctx, added.ID, model.Device{Status: model.StatusAccepted})
	expectAPIError(t, err, http.StatusForbidden, "Unauthorized")
	_, err = admin.UpdateDevice(ctx, added.ID, model.Device{Status: "lost"})
	expectAPIError(t, err, http.StatusBadRequest, "Invalid status or condition value")
	_, err = admin.UpdateDevice(ctx, "99", model.Device{Status: model.StatusAccepted})
	expectAPIError(t, err, http.StatusNotFound, "Device not found")

	updated, err := admin.UpdateDevice(ctx, added.ID, model.Device{
		Status:         model.StatusEvaluated,
		Condition:      model.ConditionGood,
		EstimatedPrice: 42.5,
		AdminNotes:     "battery swollen",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != model.StatusEvaluated || updated.Condition != model.ConditionGood || updated.EstimatedPrice != 42.5 || updated.Name != "Phone" {
		t.Fatalf("unexpected update %+v", updated)
	}

	expectAPIError(t, admin.DeleteDevice(ctx, added.ID), http.StatusForbidden, "You can only delete your own devices")
	expectAPIError(t, ada.DeleteDevice(ctx, added.ID), http.StatusForbidden, "You can only delete your own devices")
	if err := bob.DeleteDevice(ctx, added.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	expectAPIError(t, bob.DeleteDevice(ctx, added.ID), http.StatusNotFound, "Device not found")
	if _, ok := f.state.upload(strings.TrimPrefix(added.ImageURL, uploadPrefix)); ok {
		t.Fatal("expected the device image to be removed")
	}
}

func TestTrailingSlashRoutes(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/health", "/health/", "/devices/"} {
		resp, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		want := http.StatusOK
		if strings.HasPrefix(path, "/devices") {
			want = http.StatusUnauthorized
		}
		if resp.StatusCode != want {
			t.Fatalf("GET %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestAdminControlPlane(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/admin/seed", "application/yaml", strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed: expected 200, got %d", resp.StatusCode)
	}

	var snap snapshot
	resp, err = http.Get(f.srv.URL + "/admin/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if len(snap.Users) != 2 || len(snap.Devices) != 1 || snap.Devices[0].Status != "waiting" {
		t.Fatalf("unexpected state %+v", snap)
	}

	resp, err = http.Post(f.srv.URL+"/admin/seed", "application/yaml", strings.NewReader("devices:\n  - owner: ghost@example.com\n    name: x\n"))
	if err != nil {
		t.Fatalf("bad seed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad seed: expected 400, got %d", resp.StatusCode)
	}

	resp, err = http.Post(f.srv.URL+"/admin/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	resp.Body.Close()
	if s := f.state.snapshot(); len(s.Users) != 0 || len(s.Devices) != 0 {
		t.Fatalf("expected empty state after reset, got %+v", s)
	}
}

func TestLoadSeedRejectsInvalidStatus(t *testing.T) {
	s := NewState(bcrypt.MinCost)
	err := LoadSeed(s, []byte(`
users:
  - {firstName: A, lastName: B, email: a@example.com, password: pw}
devices:
  - {owner: a@example.com, name: x, status: lost}
`))
	if err == nil || !strings.Contains(err.Error(), "invalid status") {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}
