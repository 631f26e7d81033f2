// Package session holds the authenticated identity and drives the login,
// registration, logout and profile flows against the backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/model"
	"ecodispose/client/internal/toast"
)

const snapshotKey = "currentUser"

const (
	errLoginFailed      = "login_failed"
	errRequestFailed    = "request_failed"
	errStale            = "stale_response"
	errNotAuthenticated = "not_authenticated"
	errEmailUsed        = "email already used"
)

type API interface {
	Register(ctx context.Context, reg model.Registration) error
	Login(ctx context.Context, email, password string) (model.User, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (model.User, error)
	EditProfile(ctx context.Context, user model.User, image *api.File) (model.User, error)
	URL(path string) string
}

// Devices is the part of the device cache the session drives. The session
// reads Epoch while it holds its own lock so a refresh it starts is dropped by
// any later Invalidate.
type Devices interface {
	Epoch() uint64
	RefreshAt(ctx context.Context, epoch uint64) model.Result
	Invalidate()
}

type Notifier interface {
	Show(title, message string, severity toast.Severity) string
}

type Snapshots interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Options struct {
	API         API
	Devices     Devices
	Notifier    Notifier
	Snapshots   Snapshots
	Policy      toast.Policy
	Logger      log.FieldLogger
	Placeholder string
}

type Store struct {
	api         API
	devices     Devices
	notifier    Notifier
	snapshots   Snapshots
	policy      toast.Policy
	logger      log.FieldLogger
	placeholder string

	mu         sync.RWMutex
	current    *model.User
	hint       *model.User
	restored   bool
	checked    bool
	checking   int
	generation uint64
	logouts    uint64

	background conc.WaitGroup
}

// New returns a store in the loading state: nothing is known about the
// session until CheckAuth has answered.
func New(opts Options) *Store {
	return &Store{
		api:         opts.API,
		devices:     opts.Devices,
		notifier:    opts.Notifier,
		snapshots:   opts.Snapshots,
		policy:      opts.Policy,
		logger:      opts.Logger.WithField("component", "session"),
		placeholder: opts.Placeholder,
	}
}

// Restore loads the persisted snapshot into Hint. It only runs once; the
// snapshot never becomes the current session.
func (s *Store) Restore(ctx context.Context) {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return
	}
	s.restored = true
	s.mu.Unlock()

	data, ok, err := s.snapshots.Get(ctx, snapshotKey)
	if err != nil {
		s.logger.WithError(err).Warn("reading session snapshot failed")
		return
	}
	if !ok {
		return
	}
	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		s.logger.WithError(err).Warn("discarding unreadable session snapshot")
		return
	}

	s.mu.Lock()
	s.hint = &user
	s.mu.Unlock()
}

// Hint returns the identity remembered from the previous run, if any.
func (s *Store) Hint() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hint == nil {
		return model.User{}, false
	}
	return *s.hint, true
}

func (s *Store) Current() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.User{}, false
	}
	return *s.current, true
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.checked || s.checking > 0
}

func (s *Store) Login(ctx context.Context, email, password string) model.Result {
	logouts := s.logoutCount()
	user, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("login failed")
		msg := api.Message(err)
		if msg == "" {
			msg = errLoginFailed
		}
		if s.policy.Allows(toast.OpLogin) {
			s.notifier.Show("Login failed", msg, toast.Danger)
		}
		return model.Fail(msg)
	}

	s.mu.Lock()
	if s.logouts != logouts {
		s.mu.Unlock()
		s.logger.Debug("dropping login response issued before logout")
		return model.Fail(errStale)
	}
	s.setLocked(user)
	epoch := s.devices.Epoch()
	s.mu.Unlock()

	s.persist(ctx, user)
	s.refreshDevices(ctx, epoch)
	s.logger.WithField("user_id", user.ID).Info("logged in")
	return model.OK()
}

// Register creates the account and then logs in with the same credentials.
func (s *Store) Register(ctx context.Context, reg model.Registration) model.Result {
	if err := s.api.Register(ctx, reg); err != nil {
		s.logger.WithError(err).WithField("email", reg.Email).Warn("registration failed")
		var apiErr *api.Error
		if !errors.As(err, &apiErr) {
			return model.Fail(errRequestFailed)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = errEmailUsed
		}
		if s.policy.Allows(toast.OpRegister) {
			s.notifier.Show("Registration failed", msg, toast.Danger)
		}
		return model.Fail(msg)
	}
	return s.Login(ctx, reg.Email, reg.Password)
}

// UpdateProfile replaces the session with the server's copy of the user.
func (s *Store) UpdateProfile(ctx context.Context, user model.User, image *api.File) model.Result {
	s.mu.RLock()
	generation := s.generation
	var currentID model.ID
	if s.current != nil {
		currentID = s.current.ID
	}
	s.mu.RUnlock()

	updated, err := s.api.EditProfile(ctx, user, image)
	if err != nil {
		s.logger.WithError(err).Error("profile update failed")
		msg := api.Message(err)
		if msg == "" {
			msg = errRequestFailed
		}
		if s.policy.Allows(toast.OpProfile) {
			s.notifier.Show("Profile not saved", msg, toast.Danger)
		}
		return model.Fail(msg)
	}

	s.mu.Lock()
	if s.generation != generation || s.current == nil || s.current.ID != currentID {
		s.mu.Unlock()
		s.logger.Debug("dropping profile response for a session that changed")
		return model.Fail(errStale)
	}
	s.setLocked(updated)
	s.mu.Unlock()

	s.persist(ctx, updated)
	return model.OK()
}

// Logout clears local state at once and tells the backend in the background.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.logouts++
	s.clearLocked()
	s.devices.Invalidate()
	s.mu.Unlock()

	s.forget(ctx)

	bg := context.WithoutCancel(ctx)
	s.background.Go(func() {
		if err := s.api.Logout(bg); err != nil {
			s.logger.WithError(err).Warn("logout request failed")
			if s.policy.Allows(toast.OpLogout) {
				s.notifier.Show("Logout", errRequestFailed, toast.Warning)
			}
		}
	})
}

// CheckAuth asks the backend who is logged in. Loading reports true while
// any check is in flight.
func (s *Store) CheckAuth(ctx context.Context) model.Result {
	s.mu.Lock()
	s.checking++
	generation := s.generation
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.checking--
		s.checked = true
		s.mu.Unlock()
	}()

	user, err := s.api.Profile(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			s.logger.Debug("no active session")
		} else {
			s.logger.WithError(err).Warn("session check failed")
		}
		if s.policy.Allows(toast.OpCheckAuth) {
			s.notifier.Show("Session", errNotAuthenticated, toast.Warning)
		}

		s.mu.Lock()
		if s.generation != generation {
			s.mu.Unlock()
			return model.Fail(errStale)
		}
		hadSession := s.current != nil
		s.clearLocked()
		if hadSession {
			s.devices.Invalidate()
		}
		s.mu.Unlock()
		if hadSession {
			s.forget(ctx)
		}

		msg := api.Message(err)
		if msg == "" {
			msg = errNotAuthenticated
		}
		return model.Fail(msg)
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return model.Fail(errStale)
	}
	s.setLocked(user)
	epoch := s.devices.Epoch()
	s.mu.Unlock()

	s.persist(ctx, user)
	s.refreshDevices(ctx, epoch)
	return model.OK()
}

// ProfileImage returns the current user's picture URL or the placeholder.
func (s *Store) ProfileImage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.ProfileImageURL == "" {
		return s.placeholder
	}
	return s.api.URL(s.current.ProfileImageURL)
}

// Wait blocks until background refreshes and logout calls have finished.
func (s *Store) Wait() {
	s.background.Wait()
}

func (s *Store) logoutCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logouts
}

func (s *Store) setLocked(user model.User) {
	s.current = &user
	s.generation++
}

func (s *Store) clearLocked() {
	s.current = nil
	s.generation++
}

func (s *Store) refreshDevices(ctx context.Context, epoch uint64) {
	bg := context.WithoutCancel(ctx)
	s.background.Go(func() {
		if res := s.devices.RefreshAt(bg, epoch); !res.OK {
			s.logger.WithField("reason", res.Message).Debug("device refresh after session change failed")
		}
	})
}

func (s *Store) persist(ctx context.Context, user model.User) {
	data, err := json.Marshal(user)
	if err != nil {
		s.logger.WithError(err).Error("encoding session snapshot failed")
		return
	}
	if err := s.snapshots.Set(ctx, snapshotKey, data); err != nil {
		s.logger.WithError(err).Warn("saving session snapshot failed")
	}
}

func (s *Store) forget(ctx context.Context) {
	if err := s.snapshots.Delete(ctx, snapshotKey); err != nil {
		s.logger.WithError(err).Warn("removing session snapshot failed")
	}
}
