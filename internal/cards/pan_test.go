package cards

import (
	"regexp"
	"strings"
	"testing"
)

func TestGeneratePAN(t *testing.T) {
	for i := 0; i < 100; i++ {
		pan, err := GeneratePAN(DefaultBIN)
		if err != nil {
			t.Fatalf("generate pan: %v", err)
		}
		if len(pan) != 16 {
			t.Fatalf("pan length = %d, want 16", len(pan))
		}
		if !strings.HasPrefix(pan, DefaultBIN) {
			t.Fatalf("pan %s does not start with bin %s", pan, DefaultBIN)
		}
		if !ValidPAN(pan) {
			t.Fatalf("generated pan %s fails the mod 10 check", pan)
		}
	}
}

func TestGeneratePANRejectsBadBIN(t *testing.T) {
	if _, err := GeneratePAN("40ab"); err == nil {
		t.Fatal("expected error for non-numeric bin")
	}
	if _, err := GeneratePAN("4000400040004000"); err == nil {
		t.Fatal("expected error for oversized bin")
	}
}

func TestValidPAN(t *testing.T) {
	if !ValidPAN("4539578763621486") {
		t.Fatal("known-good pan rejected")
	}
	if ValidPAN("") {
		t.Fatal("empty string accepted")
	}
	if ValidPAN("4539a78763621486") {
		t.Fatal("non-digit pan accepted")
	}

	pan, err := GeneratePAN(DefaultBIN)
	if err != nil {
		t.Fatalf("generate pan: %v", err)
	}
	// A single-digit substitution always breaks the mod 10 check.
	mutated := []byte(pan)
	mutated[6] = '0' + (mutated[6]-'0'+1)%10
	if ValidPAN(string(mutated)) {
		t.Fatalf("mutated pan %s accepted", mutated)
	}
}

func TestMaskPAN(t *testing.T) {
	if got := MaskPAN("4000123456781486"); got != "****-****-****-1486" {
		t.Fatalf("mask = %q", got)
	}
	if got := MaskPAN("1234567"); got != "*******" {
		t.Fatalf("short mask = %q", got)
	}
}

func TestHashSensitive(t *testing.T) {
	first := HashSensitive("4000123456781486")
	if len(first) != 64 {
		t.Fatalf("digest length = %d, want 64", len(first))
	}
	if first != HashSensitive("4000123456781486") {
		t.Fatal("digest not deterministic")
	}
	if first == HashSensitive("4000123456781487") {
		t.Fatal("different inputs share a digest")
	}
}

func TestGenerateAuthCode(t *testing.T) {
	pattern := regexp.MustCompile(`^AXZ[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		if code := GenerateAuthCode(); !pattern.MatchString(code) {
			t.Fatalf("auth code %q does not match AXZ + 8 uppercase hex", code)
		}
	}
}

func TestGenerateCVV(t *testing.T) {
	for i := 0; i < 20; i++ {
		cvv, err := GenerateCVV()
		if err != nil {
			t.Fatalf("generate cvv: %v", err)
		}
		if len(cvv) != 3 {
			t.Fatalf("cvv %q length = %d, want 3", cvv, len(cvv))
		}
		for _, r := range cvv {
			if r < '0' || r > '9' {
				t.Fatalf("cvv %q contains a non-digit", cvv)
			}
		}
	}
}
