package message

import "strings"

// AnyVersion is the service version used when none is requested.
const AnyVersion = "*"

// Address routes a message to a verb of a service. SID and Verb are always
// upper-case; use NewAddress rather than a literal.
type Address struct {
	SID      string
	Verb     string
	SVersion string
}

func NewAddress(sid, verb string) Address {
	return Address{
		SID:      strings.ToUpper(sid),
		Verb:     strings.ToUpper(verb),
		SVersion: AnyVersion,
	}
}

// WithVersion returns a copy of the address pinned to a service version.
func (a Address) WithVersion(sversion string) Address {
	if sversion == "" {
		sversion = AnyVersion
	}
	a.SVersion = strings.ToUpper(sversion)
	return a
}

func (a Address) IsZero() bool {
	return a.SID == "" && a.Verb == ""
}

// String renders "SID:SVERSION#VERB".
func (a Address) String() string {
	return a.SID + ":" + a.SVersion + "#" + a.Verb
}

// Map is the wire representation of the address frame.
func (a Address) Map() map[string]string {
	return map[string]string{
		"sid":      a.SID,
		"verb":     a.Verb,
		"sversion": a.SVersion,
	}
}

// AddressFromValues rebuilds an address from a decoded address frame.
func AddressFromValues(v Values) Address {
	addr := NewAddress(v.String("sid"), v.String("verb"))
	return addr.WithVersion(v.String("sversion"))
}
