// Package web serves the client's views over HTTP. Every view request passes
// the navigation guard; actions drive the session and device stores.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/app"
	"ecodispose/client/internal/guard"
	"ecodispose/client/internal/model"
	"ecodispose/client/internal/toast"
)

const maxUploadBytes = 16 << 20

type Server struct {
	app    *app.App
	logger log.FieldLogger
}

func NewServer(a *app.App) *Server {
	return &Server{app: a, logger: a.Logger.WithField("component", "web")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws/toasts", s.handleToastStream)
	r.Get("/toasts", s.handleListToasts)
	r.Delete("/toasts/{toastID}", s.handleDismissToast)

	r.Route("/actions", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
		r.Post("/check", s.handleCheckAuth)

		r.With(s.requireSession).Post("/profile", s.handleUpdateProfile)
		r.With(s.requireSession).Post("/devices/refresh", s.handleRefreshDevices)
		r.With(s.requireSession).Post("/devices", s.handleAddDevice)
		r.With(s.requireSession).Put("/devices/{deviceID}", s.handleUpdateDevice)
		r.With(s.requireSession).Delete("/devices/{deviceID}", s.handleDeleteDevice)
	})

	r.With(s.guardMiddleware).Get("/*", s.handleView)

	return r
}

type navigationKey struct{}

// guardMiddleware holds requests while the session is unknown and redirects
// when the guard says so.
func (s *Server) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.app.Session.Loading() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "session_loading")
			return
		}
		nav := s.app.Navigate(r.URL.Path)
		if nav.Redirected && !nav.NotFound {
			http.Redirect(w, r, nav.Path, http.StatusSeeOther)
			return
		}
		ctx := context.WithValue(r.Context(), navigationKey{}, nav)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.app.Session.Current(); !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type viewResponse struct {
	View         string        `json:"view"`
	Path         string        `json:"path"`
	User         *model.User   `json:"user,omitempty"`
	ProfileImage string        `json:"profileImage"`
	Devices      []deviceView  `json:"devices,omitempty"`
	Toasts       []toast.Toast `json:"toasts"`
}

type deviceView struct {
	model.Device
	Image string `json:"image"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	nav, _ := r.Context().Value(navigationKey{}).(guard.Navigation)
	resp := viewResponse{
		View:         nav.View,
		Path:         nav.Path,
		ProfileImage: s.app.Session.ProfileImage(),
		Toasts:       s.app.Toasts.List(),
	}
	if user, ok := s.app.Session.Current(); ok {
		resp.User = &user
	}
	switch nav.View {
	case "listings", "admin", "profile":
		for _, d := range s.app.Devices.List() {
			resp.Devices = append(resp.Devices, deviceView{Device: d, Image: s.app.Devices.Image(d)})
		}
	}
	status := http.StatusOK
	if nav.NotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resp)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registration struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}
	writeResult(w, s.app.Session.Login(r.Context(), req.Email, req.Password))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	writeResult(w, s.app.Session.Register(r.Context(), model.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	}))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.app.Session.Logout(r.Context())
	writeResult(w, model.OK())
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.app.Session.CheckAuth(r.Context()))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	var user model.User
	if err := json.Unmarshal([]byte(r.FormValue("user")), &user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user")
		return
	}
	var image *api.File
	if file, header, err := r.FormFile("profileImage"); err == nil {
		defer file.Close()
		image = &api.File{Name: header.Filename, Content: file}
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	writeResult(w, s.app.Session.UpdateProfile(r.Context(), user, image))
}

func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.app.Devices.Refresh(r.Context()))
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	var draft model.Device
	if err := json.Unmarshal([]byte(r.FormValue("device")), &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_device")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_image")
		return
	}
	defer file.Close()

	created, res := s.app.Devices.Add(r.Context(), draft, api.File{Name: header.Filename, Content: file})
	if !res.OK {
		writeResult(w, res)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "device": created})
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var device model.Device
	if err := decodeJSON(r, &device); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	id := model.ID(chi.URLParam(r, "deviceID"))
	writeResult(w, s.app.Devices.Update(r.Context(), id, device))
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := model.ID(chi.URLParam(r, "deviceID"))
	writeResult(w, s.app.Devices.Delete(r.Context(), id))
}

func (s *Server) handleListToasts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"toasts": s.app.Toasts.List()})
}

func (s *Server) handleDismissToast(w http.ResponseWriter, r *http.Request) {
	s.app.Toasts.Dismiss(chi.URLParam(r, "toastID"))
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeResult(w http.ResponseWriter, res model.Result) {
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}
