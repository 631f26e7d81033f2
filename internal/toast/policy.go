package toast

import (
	"strings"
	"unicode"
)

// Operation names understood by Policy.
const (
	OpRegister      = "register"
	OpLogin         = "login"
	OpProfile       = "profile"
	OpCheckAuth     = "checkauth"
	OpLogout        = "logout"
	OpDeviceRefresh = "device.refresh"
	OpDeviceAdd     = "device.add"
	OpDeviceUpdate  = "device.update"
	OpDeviceDelete  = "device.delete"
)

// Policy decides which failed operations surface a toast. Anything not listed
// is logged only.
type Policy map[string]bool

// ParsePolicy reads a comma or whitespace separated list of operation names.
func ParsePolicy(ops string) Policy {
	p := Policy{}
	fields := strings.FieldsFunc(ops, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	for _, f := range fields {
		p[strings.ToLower(f)] = true
	}
	return p
}

func (p Policy) Allows(op string) bool {
	return p[op]
}
