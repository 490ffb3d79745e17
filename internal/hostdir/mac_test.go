package hostdir

import (
	"errors"
	"testing"
)

func TestCanonicalMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF"},
		{"00:1a:2B:3c:4D:5e", "00:1A:2B:3C:4D:5E"},
	}
	for _, tt := range tests {
		got, err := CanonicalMAC(tt.in)
		if err != nil {
			t.Errorf("CanonicalMAC(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
		again, err := CanonicalMAC(got)
		if err != nil || again != got {
			t.Errorf("CanonicalMAC not idempotent on %q: %q, %v", got, again, err)
		}
	}
}

func TestCanonicalMACRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"aabbccddeeff",
		"aa:bb-cc:dd:ee:ff",
		"gg:bb:cc:dd:ee:ff",
		" aa:bb:cc:dd:ee:ff",
	} {
		if _, err := CanonicalMAC(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("CanonicalMAC(%q) err = %v, want ErrInvalidAddress", in, err)
		}
	}
}

func TestNormalizeMAC(t *testing.T) {
	if got := NormalizeMAC(" aa-bb-cc-dd-ee-ff "); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("NormalizeMAC = %q", got)
	}
	if got := NormalizeMAC("not-a-mac"); got != "NOT-A-MAC" {
		t.Errorf("NormalizeMAC(invalid) = %q, want uppercased input", got)
	}
}

func TestCompactMAC(t *testing.T) {
	compact := CompactMAC("AA:BB:CC:DD:EE:0F")
	if compact != "aabbccddee0f" {
		t.Fatalf("CompactMAC = %q", compact)
	}
	mac, err := ExpandMAC(compact)
	if err != nil {
		t.Fatal(err)
	}
	if mac != "AA:BB:CC:DD:EE:0F" {
		t.Errorf("ExpandMAC = %q", mac)
	}
	if _, err := ExpandMAC("abc"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ExpandMAC(short) err = %v", err)
	}
}
