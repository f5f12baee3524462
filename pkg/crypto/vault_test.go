package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewVault_KeyLength(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"exact 32 bytes", 32, false},
		{"too short", 16, true},
		{"too long", 48, true},
		{"empty", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVault(make([]byte, tt.keyLen))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("NewVault() error = %v, want ErrInvalidKey", err)
				}
				return
			}
			if err != nil {
				t.Errorf("NewVault() unexpected error = %v", err)
			}
		})
	}
}

func TestVault_SealOpen_RoundTrip(t *testing.T) {
	v, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"refresh token", "1//0gFakeRefreshTokenValue-abc_def"},
		{"short", "x"},
		{"unicode", "señor café 메일"},
		{"long", strings.Repeat("payload-", 512)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := v.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if parts := strings.Split(sealed, ":"); len(parts) != 3 {
				t.Fatalf("Seal() produced %d segments, want 3", len(parts))
			}
			got, err := v.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestVault_Seal_FreshIVPerCall(t *testing.T) {
	v, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}

	a, err := v.Seal("same plaintext")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := v.Seal("same plaintext")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if a == b {
		t.Error("two Seal() calls produced identical output; IV is not fresh")
	}
}

func TestVault_Seal_EmptyPassthrough(t *testing.T) {
	v, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}

	sealed, err := v.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = (%q, %v), want (\"\", nil)", sealed, err)
	}
	opened, err := v.Open("")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = (%q, %v), want (\"\", nil)", opened, err)
	}
}

func TestVault_Open_Corrupt(t *testing.T) {
	v, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}

	sealed, err := v.Seal("attachment token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	parts := strings.Split(sealed, ":")

	flipped := func(seg string) string {
		raw, _ := base64.StdEncoding.DecodeString(seg)
		raw[0] ^= 0xff
		return base64.StdEncoding.EncodeToString(raw)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"two segments", parts[0] + ":" + parts[1]},
		{"four segments", sealed + ":extra"},
		{"not base64", "!!!:" + parts[1] + ":" + parts[2]},
		{"tampered tag", parts[0] + ":" + flipped(parts[1]) + ":" + parts[2]},
		{"tampered ciphertext", parts[0] + ":" + parts[1] + ":" + flipped(parts[2])},
		{"swapped segments", parts[2] + ":" + parts[1] + ":" + parts[0]},
		{"plain text", "not sealed at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Open(tt.input); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Open(%q) error = %v, want ErrCorrupt", tt.name, err)
			}
		})
	}
}

func TestVault_Open_WrongKey(t *testing.T) {
	v1, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	v2, err := NewVault([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}

	sealed, err := v1.Seal("secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := v2.Open(sealed); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Open() with wrong key error = %v, want ErrCorrupt", err)
	}
}

func TestIsSealed(t *testing.T) {
	v, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	sealed, err := v.Seal("token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"sealed value", sealed, true},
		{"raw token", "ya29.a0AfH6SMB", false},
		{"empty", "", false},
		{"two segments", "YWJj:YWJj", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSealed(tt.input); got != tt.want {
				t.Errorf("IsSealed(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
