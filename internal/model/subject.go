package model

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// SubjectType names what a synchronization stream covers.
type SubjectType int

const (
	SubjectToken SubjectType = iota + 1
	SubjectExchangeOffers
	SubjectAddressHistory
)

func (t SubjectType) String() string {
	switch t {
	case SubjectToken:
		return "token"
	case SubjectExchangeOffers:
		return "exchange"
	case SubjectAddressHistory:
		return "address"
	default:
		return fmt.Sprintf("subject(%d)", int(t))
	}
}

// ParseSubjectType is the inverse of SubjectType.String.
func ParseSubjectType(input string) (SubjectType, error) {
	switch input {
	case "token":
		return SubjectToken, nil
	case "exchange":
		return SubjectExchangeOffers, nil
	case "address":
		return SubjectAddressHistory, nil
	default:
		return 0, fmt.Errorf("unknown subject type: %s", input)
	}
}

// Subject identifies one synchronization stream. Confirmed and unconfirmed streams of the
// same type and scope are independent.
type Subject struct {
	Type      SubjectType
	ScopeKey  []byte
	Confirmed bool
}

// AddressSubject builds the address history subject for addr.
func AddressSubject(addr Address, confirmed bool) Subject {
	return Subject{Type: SubjectAddressHistory, ScopeKey: addr.Bytes(), Confirmed: confirmed}
}

// Validate checks that ScopeKey is present exactly when the type needs one.
func (s Subject) Validate() error {
	switch s.Type {
	case SubjectAddressHistory:
		if len(s.ScopeKey) == 0 {
			return fmt.Errorf("address subject requires a scope key")
		}
	case SubjectToken, SubjectExchangeOffers:
		if len(s.ScopeKey) != 0 {
			return fmt.Errorf("%s subject must not have a scope key", s.Type)
		}
	default:
		return fmt.Errorf("unknown subject type %d", int(s.Type))
	}
	return nil
}

// Equal compares subjects structurally.
func (s Subject) Equal(other Subject) bool {
	return s.Type == other.Type && s.Confirmed == other.Confirmed && bytes.Equal(s.ScopeKey, other.ScopeKey)
}

// Key is a comparable identity usable as a map key or storage key.
func (s Subject) Key() string {
	conf := "u"
	if s.Confirmed {
		conf = "c"
	}
	return fmt.Sprintf("%s:%s:%s", s.Type, hex.EncodeToString(s.ScopeKey), conf)
}

func (s Subject) String() string {
	return s.Key()
}

// Confirmedness returns the query confirmedness matching the subject.
func (s Subject) Confirmedness() Confirmedness {
	if s.Confirmed {
		return Confirmed
	}
	return Unconfirmed
}

// Confirmedness selects confirmed or mempool transactions at the source.
type Confirmedness int

const (
	Confirmed Confirmedness = iota + 1
	Unconfirmed
)

func (c Confirmedness) String() string {
	if c == Confirmed {
		return "confirmed"
	}
	return "unconfirmed"
}
