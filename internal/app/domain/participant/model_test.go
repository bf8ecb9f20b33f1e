package participant

import (
	"strings"
	"testing"
)

func TestParseUTXOID(t *testing.T) {
	value, err := ParseUTXOID(" 42 ")
	if err != nil {
		t.Fatalf("ParseUTXOID: %v", err)
	}
	if value.Int64() != 42 {
		t.Fatalf("value = %s", value)
	}

	for _, bad := range []string{"", "abc", "-1", "0x10", strings.Repeat("9", 80)} {
		if _, err := ParseUTXOID(bad); err == nil {
			t.Fatalf("ParseUTXOID(%q) accepted", bad)
		}
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount("1000000000000000000"); err != nil {
		t.Fatalf("ValidateAmount: %v", err)
	}
	for _, bad := range []string{"0", "-5", "", "ten"} {
		if err := ValidateAmount(bad); err == nil {
			t.Fatalf("ValidateAmount(%q) accepted", bad)
		}
	}
}

func TestNormalizeToken(t *testing.T) {
	token, err := NormalizeToken(" 0xAbCdEF0123456789abcdef0123456789ABCDEF01 ")
	if err != nil {
		t.Fatalf("NormalizeToken: %v", err)
	}
	if token != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("token = %q", token)
	}

	for _, bad := range []string{"", "0x1234", "abcdef0123456789abcdef0123456789abcdef0101", "0xzzcdef0123456789abcdef0123456789abcdef01"} {
		if _, err := NormalizeToken(bad); err == nil {
			t.Fatalf("NormalizeToken(%q) accepted", bad)
		}
	}
}
