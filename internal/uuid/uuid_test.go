// Package uuid provides unit tests for UUID generation and validation.
package uuid

import "testing"

// TestNewGeneratesValidV4 tests that generated ids pass validation.
func TestNewGeneratesValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("Generated invalid UUID: %s", id)
		}
		if seen[id] {
			t.Fatalf("Generated duplicate UUID: %s", id)
		}
		seen[id] = true
	}
}

// TestIsValidRejectsMalformed tests the strict v4 format check.
func TestIsValidRejectsMalformed(t *testing.T) {
	invalid := []string{
		"",
		"not-a-uuid",
		"123e4567-e89b-12d3-a456-426614174000",  // v1
		"123e4567e89b42d3a456426614174000",      // no dashes
		"123e4567-e89b-42d3-c456-426614174000",  // bad variant
		"123e4567-e89b-42d3-a456-42661417400",   // short
		"123e4567-e89b-42d3-a456-4266141740000", // long
	}
	for _, s := range invalid {
		if IsValid(s) {
			t.Errorf("Expected %q to be invalid", s)
		}
	}
}

// TestValidate tests the error form of validation.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Expected generated id to validate, got %v", err)
	}
	if err := Validate("nope"); err == nil {
		t.Error("Expected validation error for malformed id")
	}
}
