// Package twin is an in-memory stand-in for the Eco-Dispose backend. It
// answers the same routes with the same shapes and status codes, so the
// client can be developed and tested without the real server.
package twin

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"ecodispose/client/internal/model"
)

var (
	errEmailTaken   = errors.New("email already in use")
	errUserNotFound = errors.New("user not found")
)

type address struct {
	ID      int     `json:"id"`
	Street  *string `json:"street"`
	City    *string `json:"city"`
	Country *string `json:"country"`
	ZipCode *string `json:"zipCode"`
}

type user struct {
	ID              int     `json:"id"`
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	Email           string  `json:"email"`
	PhoneNumber     *string `json:"phoneNumber"`
	IsAdmin         bool    `json:"isAdmin"`
	ProfileImageURL *string `json:"profileImageUrl"`
	Address         address `json:"address"`

	passwordHash []byte
}

type device struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	Condition       *string   `json:"condition"`
	Status          string    `json:"status"`
	EstimatedPrice  float64   `json:"estimatedPrice"`
	AdminNotes      string    `json:"adminNotes"`
	UserDescription string    `json:"userDescription"`
	Type            string    `json:"type"`
	Defects         string    `json:"defects"`
	ImageURL        string    `json:"imageUrl"`
	UploadDate      time.Time `json:"uploadDate"`
	UserID          int       `json:"userId"`
}

type upload struct {
	contentType string
	data        []byte
}

// State holds every user, device and uploaded file of the twin.
type State struct {
	mu sync.RWMutex

	users    map[int]*user
	byEmail  map[string]int
	devices  map[int]*device
	uploads  map[string]upload
	nextUser int
	nextAddr int
	nextDev  int
	hashCost int
}

func NewState(hashCost int) *State {
	s := &State{hashCost: hashCost}
	s.resetLocked()
	return s
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.users = make(map[int]*user)
	s.byEmail = make(map[string]int)
	s.devices = make(map[int]*device)
	s.uploads = make(map[string]upload)
	s.nextUser, s.nextAddr, s.nextDev = 0, 0, 0
}

func (s *State) createUser(firstName, lastName, email, password string, admin bool) (user, error) {
	hash, err := hashPassword(password, s.hashCost)
	if err != nil {
		return user{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.byEmail[key]; ok {
		return user{}, errEmailTaken
	}
	s.nextUser++
	s.nextAddr++
	u := &user{
		ID:           s.nextUser,
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		IsAdmin:      admin,
		Address:      address{ID: s.nextAddr},
		passwordHash: hash,
	}
	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	return *u, nil
}

func (s *State) userByEmail(email string) (user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return user{}, false
	}
	return *s.users[id], true
}

func (s *State) userByID(id int) (user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user{}, false
	}
	return *u, true
}

func (s *State) updateUser(id int, fn func(u *user)) (user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user{}, errUserNotFound
	}
	fn(u)
	return *u, nil
}

func (s *State) addDevice(d device) device {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDev++
	d.ID = s.nextDev
	s.devices[d.ID] = &d
	return d
}

func (s *State) deviceByID(id int) (device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return device{}, false
	}
	return *d, true
}

func (s *State) putDevice(d device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = &d
}

func (s *State) deleteDevice(id int) (device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return device{}, false
	}
	delete(s.devices, id)
	return *d, true
}

// listDevices returns every device for admins and the caller's own otherwise,
// ordered by id.
func (s *State) listDevices(viewer user) []device {
	s.mu.RLock()
	out := make([]device, 0, len(s.devices))
	for _, d := range s.devices {
		if viewer.IsAdmin || d.UserID == viewer.ID {
			out = append(out, *d)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) saveUpload(name, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[name] = upload{contentType: contentType, data: data}
}

func (s *State) upload(name string) (upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[name]
	return u, ok
}

func (s *State) deleteUpload(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, name)
}

// Seed is the YAML fixture format accepted by LoadSeed.
type Seed struct {
	Users []struct {
		FirstName   string `yaml:"firstName"`
		LastName    string `yaml:"lastName"`
		Email       string `yaml:"email"`
		Password    string `yaml:"password"`
		PhoneNumber string `yaml:"phoneNumber"`
		IsAdmin     bool   `yaml:"isAdmin"`
	} `yaml:"users"`
	Devices []struct {
		Owner           string  `yaml:"owner"`
		Name            string  `yaml:"name"`
		Type            string  `yaml:"type"`
		Defects         string  `yaml:"defects"`
		UserDescription string  `yaml:"userDescription"`
		Status          string  `yaml:"status"`
		Condition       string  `yaml:"condition"`
		EstimatedPrice  float64 `yaml:"estimatedPrice"`
		ImageURL        string  `yaml:"imageUrl"`
	} `yaml:"devices"`
}

func LoadSeedFile(s *State, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	return LoadSeed(s, data)
}

// LoadSeed adds the users and devices described by a YAML document.
func LoadSeed(s *State, data []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed: %w", err)
	}
	for _, su := range seed.Users {
		u, err := s.createUser(su.FirstName, su.LastName, su.Email, su.Password, su.IsAdmin)
		if err != nil {
			return fmt.Errorf("seeding user %s: %w", su.Email, err)
		}
		if su.PhoneNumber != "" {
			phone := su.PhoneNumber
			_, _ = s.updateUser(u.ID, func(u *user) { u.PhoneNumber = &phone })
		}
	}
	for _, sd := range seed.Devices {
		owner, ok := s.userByEmail(sd.Owner)
		if !ok {
			return fmt.Errorf("seeding device %s: unknown owner %s", sd.Name, sd.Owner)
		}
		status := sd.Status
		if status == "" {
			status = "collected"
		}
		if !model.DeviceStatus(status).Valid() {
			return fmt.Errorf("seeding device %s: invalid status %q", sd.Name, status)
		}
		d := device{
			Name:            sd.Name,
			Status:          status,
			Type:            sd.Type,
			Defects:         sd.Defects,
			UserDescription: sd.UserDescription,
			EstimatedPrice:  sd.EstimatedPrice,
			ImageURL:        sd.ImageURL,
			UploadDate:      time.Now().UTC(),
			UserID:          owner.ID,
		}
		if sd.Condition != "" {
			if !model.DeviceCondition(sd.Condition).Valid() {
				return fmt.Errorf("seeding device %s: invalid condition %q", sd.Name, sd.Condition)
			}
			condition := sd.Condition
			d.Condition = &condition
		}
		s.addDevice(d)
	}
	return nil
}

type snapshot struct {
	Users   []user   `json:"users"`
	Devices []device `json:"devices"`
	Uploads []string `json:"uploads"`
}

func (s *State) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := snapshot{
		Users:   make([]user, 0, len(s.users)),
		Devices: make([]device, 0, len(s.devices)),
		Uploads: make([]string, 0, len(s.uploads)),
	}
	for _, u := range s.users {
		out.Users = append(out.Users, *u)
	}
	for _, d := range s.devices {
		out.Devices = append(out.Devices, *d)
	}
	for name := range s.uploads {
		out.Uploads = append(out.Uploads, name)
	}
	sort.Slice(out.Users, func(i, j int) bool { return out.Users[i].ID < out.Users[j].ID })
	sort.Slice(out.Devices, func(i, j int) bool { return out.Devices[i].ID < out.Devices[j].ID })
	sort.Strings(out.Uploads)
	return out
}
