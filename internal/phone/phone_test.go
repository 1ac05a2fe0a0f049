package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare ten digits", "5551234567", "5551234567"},
		{"e164", "+15551234567", "5551234567"},
		{"leading one no plus", "15551234567", "5551234567"},
		{"parenthesized", "(555) 123-4567", "5551234567"},
		{"dashed", "555-123-4567", "5551234567"},
		{"dotted", "555.123.4567", "5551234567"},
		{"spaces and country code", "+1 555 123 4567", "5551234567"},
		{"empty", "", ""},
		{"letters stripped", "call 5551234567 now", "5551234567"},
		{"short number kept as digits", "12345", "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestToE164(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"ten digits", "5551234567", "+15551234567"},
		{"already prefixed", "+15551234567", "+15551234567"},
		{"formatted", "(555) 123-4567", "+15551234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToE164(tt.input); got != tt.expected {
				t.Errorf("ToE164(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestVariants(t *testing.T) {
	got := Variants("+1 (555) 123-4567")

	want := []string{
		"5551234567",
		"15551234567",
		"+15551234567",
		"(555) 123-4567",
		"555-123-4567",
		"555.123.4567",
	}

	if len(got) != len(want) {
		t.Fatalf("Variants returned %d formats, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Variants[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestVariantsNonNANP(t *testing.T) {
	if got := Variants(""); got != nil {
		t.Errorf("Variants(\"\") = %v, want nil", got)
	}

	got := Variants("12345")
	if len(got) != 1 || got[0] != "12345" {
		t.Errorf("Variants(\"12345\") = %v, want just the digits", got)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{"same formatting", "5551234567", "5551234567", true},
		{"different formatting", "+15551234567", "(555) 123-4567", true},
		{"different numbers", "5551234567", "5559876543", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.expected {
				t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}
