package vault

import (
	"errors"
	"testing"

	"syba/internal/core"
)

func TestSealRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	markers := map[string]core.YearMonth{
		"card-1": "2026-03",
		"loan-1": "2026-02",
	}
	blob, err := sealer.Seal(markers)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	var got map[string]core.YearMonth
	if err := sealer.Open(blob, &got); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(got) != 2 || got["card-1"] != "2026-03" || got["loan-1"] != "2026-02" {
		t.Errorf("round trip = %v", got)
	}
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrKeyRequired},
		{"not hex", "zz", nil},
		{"too short", "deadbeef", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSealer(tt.key)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	key, _ := GenerateKey()
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	blob, err := sealer.Seal(map[string]core.YearMonth{"card-1": "2026-03"})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	blob[len(blob)-1] ^= 0xff

	var got map[string]core.YearMonth
	if err := sealer.Open(blob, &got); err == nil {
		t.Error("tampered blob must not open")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	s1, _ := NewSealer(key1)
	s2, _ := NewSealer(key2)

	blob, err := s1.Seal(map[string]core.YearMonth{"card-1": "2026-03"})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	var got map[string]core.YearMonth
	if err := s2.Open(blob, &got); err == nil {
		t.Error("blob must not open under a different key")
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	key, _ := GenerateKey()
	sealer, _ := NewSealer(key)

	var got map[string]core.YearMonth
	if err := sealer.Open([]byte{1, 2, 3}, &got); err == nil {
		t.Error("truncated blob must not open")
	}
}
