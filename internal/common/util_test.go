package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	if err != nil {
		t.Fatalf("unexpected error for size=0: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for size=0, got %q", s)
	}
}

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
	WipeByteArray(nil)
}

func TestGenerateRandByteArray_Length(t *testing.T) {
	const n = 24
	if buf := GenerateRandByteArray(n); len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

func TestRandomCode_UsesAlphabetOnly(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := RandomCode(PairingCodeLength, PairingCodeAlphabet)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != PairingCodeLength {
			t.Fatalf("expected length %d, got %q", PairingCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(PairingCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
	}
}

func TestErrorFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{ErrAlreadyRedeemed.Error(), ErrAlreadyRedeemed},
		{ErrVersionConflict.Error(), ErrVersionConflict},
		{ErrSelfPairing.Error(), ErrSelfPairing},
		{"something else", nil},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := ErrorFromMessage(tt.msg)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(fmt.Errorf("wrapped: %w", got), tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
