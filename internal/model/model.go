package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ID is a resource identifier. The backend emits integer ids while fixtures and
// newer endpoints use strings, so both JSON forms decode into the same value.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type Address struct {
	ID      ID     `json:"id,omitempty"`
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

// User is the identity held by the session store.
type User struct {
	ID              ID       `json:"id"`
	Email           string   `json:"email"`
	FirstName       string   `json:"firstName,omitempty"`
	LastName        string   `json:"lastName,omitempty"`
	PhoneNumber     string   `json:"phoneNumber,omitempty"`
	IsAdmin         bool     `json:"isAdmin,omitempty"`
	Role            string   `json:"role,omitempty"`
	ProfileImageURL string   `json:"profileImageUrl,omitempty"`
	Address         *Address `json:"address,omitempty"`
}

func (u User) Admin() bool {
	return u.IsAdmin || strings.EqualFold(u.Role, RoleAdmin)
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Result is the outcome every store operation reports to its caller.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func OK() Result {
	return Result{OK: true}
}

func Fail(message string) Result {
	return Result{Message: message}
}
