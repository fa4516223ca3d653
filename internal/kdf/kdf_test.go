package kdf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/arenfeld/codex/internal/apperr"
)

var testSalt = bytes.Repeat([]byte{0xA5}, MinSaltLen)

func TestDeriveDeterministic(t *testing.T) {
	k1, err := Derive([]byte("correct horse"), testSalt, MinIterations)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	k2, err := Derive([]byte("correct horse"), testSalt, MinIterations)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(k1) != KeyLen {
		t.Errorf("key length = %d, want %d", len(k1), KeyLen)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same inputs produced different keys")
	}
}

func TestDeriveVariesWithInputs(t *testing.T) {
	base, _ := Derive([]byte("pw"), testSalt, MinIterations)

	otherPw, _ := Derive([]byte("pw2"), testSalt, MinIterations)
	if bytes.Equal(base, otherPw) {
		t.Error("different passphrases produced the same key")
	}

	otherSalt, _ := Derive([]byte("pw"), bytes.Repeat([]byte{0x11}, MinSaltLen), MinIterations)
	if bytes.Equal(base, otherSalt) {
		t.Error("different salts produced the same key")
	}

	otherIter, _ := Derive([]byte("pw"), testSalt, MinIterations+1)
	if bytes.Equal(base, otherIter) {
		t.Error("different iteration counts produced the same key")
	}
}

func TestDeriveRejectsMalformedInputs(t *testing.T) {
	cases := []struct {
		name       string
		passphrase []byte
		salt       []byte
		iterations int
	}{
		{"empty passphrase", nil, testSalt, MinIterations},
		{"empty salt", []byte("pw"), nil, MinIterations},
		{"short salt", []byte("pw"), []byte("short"), MinIterations},
		{"zero iterations", []byte("pw"), testSalt, 0},
		{"negative iterations", []byte("pw"), testSalt, -1},
		{"below minimum iterations", []byte("pw"), testSalt, MinIterations - 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Derive(tc.passphrase, tc.salt, tc.iterations)
			if !errors.Is(err, apperr.ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}
