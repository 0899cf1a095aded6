package validation

import "testing"

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "alice_01", false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"invalid chars", "alice!", true},
		{"too long", string(make([]byte, 51)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUsername(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateUsername(%q) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "room-1", false},
		{"empty", "", true},
		{"invalid chars", "room/1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRoomID(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateRoomID(%q) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"https", "https://example.com", false},
		{"wss", "wss://example.com/signal", false},
		{"stun", "stun:stun.example.com:3478", false},
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateURL(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateURL(%q) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestValidateCapacity(t *testing.T) {
	if err := ValidateCapacity(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if err := ValidateCapacity(10001); err == nil {
		t.Fatal("expected error for too-large capacity")
	}
	if err := ValidateCapacity(100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNonEmptyString(t *testing.T) {
	if err := ValidateNonEmptyString("  ", "field"); err == nil {
		t.Fatal("expected error for blank string")
	}
	if err := ValidateNonEmptyString("value", "field"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("ab", 3, 10, "field"); err == nil {
		t.Fatal("expected error for too-short string")
	}
	if err := ValidateStringLength("abcdefghijk", 3, 10, "field"); err == nil {
		t.Fatal("expected error for too-long string")
	}
	if err := ValidateStringLength("abcde", 3, 10, "field"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
