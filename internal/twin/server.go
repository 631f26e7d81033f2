package twin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ecodispose/client/internal/model"
)

const (
	uploadPrefix  = "/static/uploads/"
	maxFormMemory = 16 << 20
)

var allowedImageExt = map[string]bool{"png": true, "jpg": true, "jpeg": true}

var errInvalidImage = errors.New("invalid image file")

type Config struct {
	Secret     string
	Issuer     string
	SessionTTL time.Duration
}

type Server struct {
	cfg    Config
	state  *State
	logger log.FieldLogger
}

type userKey struct{}

func NewServer(cfg Config, state *State, logger log.FieldLogger) *Server {
	if cfg.Issuer == "" {
		cfg.Issuer = "eco-dispose-twin"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Server{cfg: cfg, state: state, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.StripSlashes)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.With(s.sessionMiddleware).Get("/auth/profile", s.handleProfile)
	r.With(s.sessionMiddleware).Post("/auth/edit", s.handleEditProfile)
	r.With(s.sessionMiddleware).Post("/auth/logout", s.handleLogout)

	r.Route("/devices", func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		r.Get("/", s.handleListDevices)
		r.Post("/", s.handleAddDevice)
		r.Put("/{deviceID}", s.handleUpdateDevice)
		r.Delete("/{deviceID}", s.handleDeleteDevice)
	})

	r.Get(uploadPrefix+"{name}", s.handleUpload)

	r.Post("/admin/reset", s.handleReset)
	r.Get("/admin/state", s.handleState)
	r.Post("/admin/seed", s.handleSeed)

	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("twin request")
	})
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			writeMessage(w, http.StatusUnauthorized, "not allowed")
			return
		}
		claims, err := parseSessionToken(s.cfg.Secret, s.cfg.Issuer, cookie.Value)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "not allowed")
			return
		}
		u, ok := s.state.userByID(claims.UserID)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "not allowed")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) user {
	u, _ := r.Context().Value(userKey{}).(user)
	return u
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseMultipartForm(maxFormMemory)
	firstName := r.FormValue("firstName")
	lastName := r.FormValue("lastName")
	email := r.FormValue("email")
	password := r.FormValue("password")
	if firstName == "" || lastName == "" || email == "" || password == "" {
		writeMessage(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if strings.HasSuffix(strings.ToLower(email), "@eco-dispose.com") {
		writeError(w, http.StatusConflict, "invalid email: cannot register with an eco-dispose email")
		return
	}

	u, err := s.state.createUser(firstName, lastName, email, password, false)
	if errors.Is(err, errEmailTaken) {
		writeError(w, http.StatusConflict, "email already in use")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("create user")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	s.logger.WithField("user_id", u.ID).Info("user registered")
	writeJSON(w, http.StatusCreated, map[string]any{"message": "registered successfully", "user": u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseMultipartForm(maxFormMemory)
	email := r.FormValue("email")
	password := r.FormValue("password")
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "missing email or password")
		return
	}

	u, ok := s.state.userByEmail(email)
	if !ok {
		writeMessage(w, http.StatusNotFound, "user not found")
		return
	}
	if !checkPassword(u.passwordHash, password) {
		writeMessage(w, http.StatusUnauthorized, "wrong credentials")
		return
	}

	token, err := newSessionToken(s.cfg.Secret, s.cfg.Issuer, s.cfg.SessionTTL, u)
	if err != nil {
		s.logger.WithError(err).Error("sign session")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.cfg.SessionTTL),
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged in as " + u.FirstName, "user": u})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": currentUser(r)})
}

type addressPatch struct {
	Street  *string `json:"street"`
	City    *string `json:"city"`
	Country *string `json:"country"`
	ZipCode *string `json:"zipCode"`
}

type userPatch struct {
	FirstName   *string       `json:"firstName"`
	LastName    *string       `json:"lastName"`
	PhoneNumber *string       `json:"phoneNumber"`
	Address     *addressPatch `json:"address"`
}

func (s *Server) handleEditProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}
	raw, hasUser := r.MultipartForm.Value["user"]
	image := formFile(r.MultipartForm, "profileImage")
	if !hasUser && image == nil {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}

	var patch userPatch
	if hasUser && raw[0] != "" {
		if err := json.Unmarshal([]byte(raw[0]), &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid user data")
			return
		}
	}

	current := currentUser(r)
	imageURL := ""
	if image != nil {
		var err error
		imageURL, err = s.storeUpload(image)
		if err != nil {
			s.uploadFailed(w, err)
			return
		}
	}

	updated, err := s.state.updateUser(current.ID, func(u *user) {
		if patch.FirstName != nil {
			u.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			u.LastName = *patch.LastName
		}
		if patch.PhoneNumber != nil {
			u.PhoneNumber = patch.PhoneNumber
		}
		if a := patch.Address; a != nil {
			if a.Street != nil {
				u.Address.Street = a.Street
			}
			if a.City != nil {
				u.Address.City = a.City
			}
			if a.Country != nil {
				u.Address.Country = a.Country
			}
			if a.ZipCode != nil {
				u.Address.ZipCode = a.ZipCode
			}
		}
		if imageURL != "" {
			u.ProfileImageURL = &imageURL
		}
	})
	if err != nil {
		writeError(w, http.StatusConflict, "invalid user state")
		return
	}
	if imageURL != "" && current.ProfileImageURL != nil {
		s.removeUpload(*current.ProfileImageURL)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "user details updated successfully", "user": updated})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeMessage(w, http.StatusOK, "logged out successfully")
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.listDevices(currentUser(r)))
}

type deviceDraft struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Defects         string `json:"defects"`
	UserDescription string `json:"userDescription"`
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	owner := currentUser(r)
	if owner.IsAdmin {
		writeError(w, http.StatusForbidden, "Admins cannot add devices")
		return
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Missing device data")
		return
	}
	raw := r.MultipartForm.Value["device"]
	if len(raw) == 0 || raw[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing device data")
		return
	}
	var draft deviceDraft
	if err := json.Unmarshal([]byte(raw[0]), &draft); err != nil {
		writeError(w, http.StatusBadRequest, "Missing device data")
		return
	}
	image := formFile(r.MultipartForm, "image")
	if draft.Name == "" || draft.Type == "" || draft.Defects == "" || draft.UserDescription == "" || image == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: name, type, defects, userDescription, or image")
		return
	}

	imageURL, err := s.storeUpload(image)
	if err != nil {
		s.uploadFailed(w, err)
		return
	}

	d := s.state.addDevice(device{
		Name:            draft.Name,
		Type:            draft.Type,
		Defects:         draft.Defects,
		UserDescription: draft.UserDescription,
		Status:          string(model.StatusCollected),
		ImageURL:        imageURL,
		UploadDate:      time.Now().UTC(),
		UserID:          owner.ID,
	})
	s.logger.WithFields(log.Fields{"device_id": d.ID, "user_id": owner.ID}).Info("device added")
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Device added successfully", "device": d})
}

type devicePatch struct {
	Condition      *string          `json:"condition"`
	Status         *string          `json:"status"`
	EstimatedPrice *json.RawMessage `json:"estimatedPrice"`
	AdminNotes     *string          `json:"adminNotes"`
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	caller := currentUser(r)
	if !caller.IsAdmin && d.UserID != caller.ID {
		writeError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	var patch devicePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if patch.Condition != nil {
		if !model.DeviceCondition(*patch.Condition).Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status or condition value")
			return
		}
		condition := *patch.Condition
		d.Condition = &condition
	}
	if patch.Status != nil {
		if !model.DeviceStatus(*patch.Status).Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status or condition value")
			return
		}
		d.Status = *patch.Status
	}
	if patch.EstimatedPrice != nil {
		price, err := parsePrice(*patch.EstimatedPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid estimatedPrice")
			return
		}
		d.EstimatedPrice = price
	}
	if patch.AdminNotes != nil {
		d.AdminNotes = *patch.AdminNotes
	}

	s.state.putDevice(d)
	writeJSON(w, http.StatusOK, map[string]any{"message": "device updated successfully", "device": d})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if d.UserID != currentUser(r).ID {
		writeError(w, http.StatusForbidden, "You can only delete your own devices")
		return
	}
	if _, ok := s.state.deleteDevice(d.ID); !ok {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	s.removeUpload(d.ImageURL)
	writeMessage(w, http.StatusOK, "Device deleted successfully")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, ok := s.state.upload(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", file.contentType)
	_, _ = w.Write(file.data)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.state.Reset()
	s.logger.Info("twin state reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.snapshot())
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFormMemory))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid seed")
		return
	}
	if err := LoadSeed(s.state, data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (s *Server) deviceFromPath(r *http.Request) (device, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "deviceID"))
	if err != nil {
		return device{}, false
	}
	return s.state.deviceByID(id)
}

// storeUpload saves an image part under a random name and returns the path it
// is served from.
func (s *Server) storeUpload(fh *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fh.Filename), "."))
	if !allowedImageExt[ext] {
		return "", errInvalidImage
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	id := uuid.New()
	name := hex.EncodeToString(id[:]) + "." + ext
	s.state.saveUpload(name, http.DetectContentType(data), data)
	return uploadPrefix + name, nil
}

func (s *Server) uploadFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, errInvalidImage) {
		writeError(w, http.StatusBadRequest, "Invalid image file")
		return
	}
	s.logger.WithError(err).Error("store upload")
	writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again later.")
}

func (s *Server) removeUpload(url string) {
	if name, ok := strings.CutPrefix(url, uploadPrefix); ok {
		s.state.deleteUpload(name)
	}
}

func formFile(form *multipart.Form, name string) *multipart.FileHeader {
	if form == nil || len(form.File[name]) == 0 {
		return nil
	}
	return form.File[name][0]
}

// parsePrice accepts a JSON number or a numeric string.
func parsePrice(raw json.RawMessage) (float64, error) {
	var price float64
	if err := json.Unmarshal(raw, &price); err == nil {
		return price, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(text), 64)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
