package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/app"
	"ecodispose/client/internal/config"
	"ecodispose/client/internal/logging"
	"ecodispose/client/internal/storage"
	"ecodispose/client/internal/toast"
)

// newBackend fakes the collaborator: one user, one device, a boolean session.
func newBackend(t *testing.T, admin bool) (*httptest.Server, *atomic.Bool) {
	t.Helper()
	var loggedIn atomic.Bool
	user := `{"id":1,"email":"a@x.com","role":"user"}`
	if admin {
		user = `{"id":2,"email":"admin@x.com","isAdmin":true}`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		loggedIn.Store(true)
		_, _ = w.Write([]byte(`{"user":` + user + `}`))
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		loggedIn.Store(false)
		_, _ = w.Write([]byte(`{"message":"logged out"}`))
	})
	mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		if !loggedIn.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"not allowed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":` + user + `}`))
	})
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"d1","name":"Phone","status":"waiting"}]`))
	})
	mux.HandleFunc("/devices/d1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Vous ne pouvez pas supprimer cet appareil"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &loggedIn
}

func newShell(t *testing.T, backendURL string) (*app.App, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		APIBaseURL:         backendURL,
		APITimeout:         5 * time.Second,
		ToastTTL:           time.Minute,
		ToastFailureOps:    "register device.add device.update device.delete",
		ProfilePlaceholder: "/Eco-Dispose/assets/placeholder.png",
		DevicePlaceholder:  "/Eco-Dispose/assets/devices/device.png",
	}
	client, err := api.New(cfg.APIBaseURL, cfg.APITimeout)
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	a := app.Build(cfg, logging.Discard(), client, storage.NewMemory())
	t.Cleanup(a.Close)
	shell := httptest.NewServer(NewServer(a).Router())
	t.Cleanup(shell.Close)
	return a, shell
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := noRedirectClient().Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestViewsWaitForSession(t *testing.T) {
	backend, _ := newBackend(t, false)
	_, shell := newShell(t, backend.URL)

	resp := get(t, shell.URL+"/home")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while loading, got %d", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "session_loading" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestGuardRedirects(t *testing.T) {
	backend, _ := newBackend(t, false)
	a, shell := newShell(t, backend.URL)
	a.Boot(context.Background())

	resp := get(t, shell.URL+"/list")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp = get(t, shell.URL+"/")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/home" {
		t.Fatalf("expected redirect to /home, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp = get(t, shell.URL+"/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = postJSON(t, shell.URL+"/actions/login", map[string]string{"email": "a@x.com", "password": "p"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login ok, got %d", resp.StatusCode)
	}
	a.Session.Wait()

	resp = get(t, shell.URL+"/admin")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/home" {
		t.Fatalf("expected user to be sent home from /admin, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp = get(t, shell.URL+"/login")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/profile" {
		t.Fatalf("expected /login to bounce to /profile, got %d", resp.StatusCode)
	}

	resp = get(t, shell.URL+"/list")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected listings view, got %d", resp.StatusCode)
	}
	var view struct {
		View    string `json:"view"`
		Devices []struct {
			ID    string `json:"id"`
			Image string `json:"image"`
		} `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.View != "listings" || len(view.Devices) != 1 || view.Devices[0].ID != "d1" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Devices[0].Image != "/Eco-Dispose/assets/devices/device.png" {
		t.Fatalf("expected placeholder image, got %q", view.Devices[0].Image)
	}
}

func TestAdminSeesDashboard(t *testing.T) {
	backend, loggedIn := newBackend(t, true)
	loggedIn.Store(true)
	a, shell := newShell(t, backend.URL)
	if res := a.Boot(context.Background()); !res.OK {
		t.Fatalf("boot failed: %+v", res)
	}
	a.Session.Wait()

	resp := get(t, shell.URL+"/admin")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected admin view, got %d", resp.StatusCode)
	}
}

func TestActionsRequireSession(t *testing.T) {
	backend, _ := newBackend(t, false)
	a, shell := newShell(t, backend.URL)
	a.Boot(context.Background())

	resp := postJSON(t, shell.URL+"/actions/devices/refresh", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp = postJSON(t, shell.URL+"/actions/login", map[string]string{"email": "a@x.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", resp.StatusCode)
	}
}

func TestDeleteFailureRaisesToast(t *testing.T) {
	backend, loggedIn := newBackend(t, false)
	loggedIn.Store(true)
	a, shell := newShell(t, backend.URL)
	a.Boot(context.Background())
	a.Session.Wait()

	req, _ := http.NewRequest(http.MethodDelete, shell.URL+"/actions/devices/d1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if _, ok := a.Devices.Get("d1"); !ok {
		t.Fatalf("device removed despite failure")
	}
	toasts := a.Toasts.List()
	if len(toasts) != 1 || !strings.Contains(toasts[0].Message, "supprimer") {
		t.Fatalf("expected delete toast, got %+v", toasts)
	}
}

func TestToastStream(t *testing.T) {
	backend, _ := newBackend(t, false)
	a, shell := newShell(t, backend.URL)
	existing := a.Toasts.Show("Hello", "already here", toast.Info)

	wsURL := "ws" + strings.TrimPrefix(shell.URL, "http") + "/ws/toasts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev toast.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if ev.Type != toast.Shown || ev.Toast.ID != existing {
		t.Fatalf("unexpected replay %+v", ev)
	}

	a.Toasts.Dismiss(existing)
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read dismiss: %v", err)
	}
	if ev.Type != toast.Dismissed || ev.Toast.ID != existing {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHealth(t *testing.T) {
	backend, _ := newBackend(t, false)
	_, shell := newShell(t, backend.URL)
	resp := get(t, shell.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
