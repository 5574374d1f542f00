package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressKind distinguishes the script template an address pays to.
type AddressKind byte

const (
	AddressP2PKH AddressKind = 0x00
	AddressP2SH  AddressKind = 0x08
)

// Address is the raw form of a ledger address: a script kind and a hash160.
type Address struct {
	Kind AddressKind
	Hash [20]byte
}

// Bytes returns kind||hash, the form used as a subject scope key.
func (a Address) Bytes() []byte {
	out := make([]byte, 21)
	out[0] = byte(a.Kind)
	copy(out[1:], a.Hash[:])
	return out
}

func (a Address) String() string {
	return hex.EncodeToString(a.Bytes())
}

// AddressFromBytes is the inverse of Address.Bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != 21 {
		return Address{}, fmt.Errorf("invalid address length: %d", len(b))
	}
	kind := AddressKind(b[0])
	if kind != AddressP2PKH && kind != AddressP2SH {
		return Address{}, fmt.Errorf("invalid address kind: %d", b[0])
	}
	var addr Address
	addr.Kind = kind
	copy(addr.Hash[:], b[1:])
	return addr, nil
}

// ParseAddress accepts the 21-byte hex form, or a bare 20-byte hash160 (taken as P2PKH).
func ParseAddress(input string) (Address, error) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
	data, err := hex.DecodeString(input)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address: %s", input)
	}
	if len(data) == 20 {
		var addr Address
		copy(addr.Hash[:], data)
		return addr, nil
	}
	return AddressFromBytes(data)
}

// ParseAddresses parses a list of addresses, skipping blanks.
func ParseAddresses(inputs []string) ([]Address, error) {
	addresses := make([]Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}
