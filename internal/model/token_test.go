package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTokenFromEntry(t *testing.T) {
	entry := TokenEntry{
		ID:              hashN(7),
		Height:          600000,
		Version:         1,
		Ticker:          "PND",
		Name:            "Panda",
		Decimals:        2,
		MintBatonVout:   2,
		InitialQuantity: "12345",
	}

	token, err := TokenFromEntry(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !token.InitialSupply.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("initial supply = %s", token.InitialSupply)
	}
	if token.MintBatonVout != 2 || token.Decimals != 2 {
		t.Fatalf("token mismatch: %+v", token)
	}
}

func TestTokenFromEntryRejectsMalformed(t *testing.T) {
	cases := []TokenEntry{
		{ID: hashN(1), Decimals: 10},
		{ID: hashN(1), DocumentHash: []byte{1, 2, 3}},
		{ID: hashN(1), InitialQuantity: "-5"},
		{ID: hashN(1), InitialQuantity: "1.5"},
		{ID: hashN(1), InitialQuantity: "abc"},
	}
	for _, entry := range cases {
		if _, err := TokenFromEntry(entry); err == nil {
			t.Fatalf("expected error for %+v", entry)
		}
	}
}

func TestTokenFromEntryWithoutBaton(t *testing.T) {
	token, err := TokenFromEntry(TokenEntry{ID: hashN(2), MintBatonVout: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.MintBatonVout != NoBaton {
		t.Fatalf("mint baton = %d, want none", token.MintBatonVout)
	}
}
