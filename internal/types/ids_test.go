package types

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	t.Run("generates valid UUID", func(t *testing.T) {
		id := NewID()

		if id.IsZero() {
			t.Error("NewID() returned zero value")
		}

		if err := id.Validate(); err != nil {
			t.Errorf("NewID() generated invalid ID: %v", err)
		}

		if _, err := uuid.Parse(string(id)); err != nil {
			t.Errorf("NewID() generated invalid UUID: %v", err)
		}
	})

	t.Run("generates unique IDs", func(t *testing.T) {
		if NewID() == NewID() {
			t.Error("NewID() generated duplicate IDs")
		}
	})
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "valid UUID v4",
			input:   "550e8400-e29b-41d4-a716-446655440000",
			wantErr: false,
		},
		{
			name:    "valid UUID v1",
			input:   "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			wantErr: false,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "not a UUID",
			input:   "entity-42",
			wantErr: true,
		},
		{
			name:    "truncated UUID",
			input:   "550e8400-e29b-41d4",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && id.String() != tt.input {
				t.Errorf("ParseID(%q) = %q, want round-trip", tt.input, id)
			}
		})
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	original := NewID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded != original {
		t.Errorf("round-trip mismatch: got %q, want %q", decoded, original)
	}
}

func TestID_JSONZeroValue(t *testing.T) {
	data, err := json.Marshal(ID(""))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("zero ID marshals to %s, want null", data)
	}

	var decoded ID
	if err := json.Unmarshal([]byte(`""`), &decoded); err != nil {
		t.Fatalf("Unmarshal of empty string failed: %v", err)
	}
	if !decoded.IsZero() {
		t.Errorf("empty string decoded to %q, want zero ID", decoded)
	}
}

func TestID_JSONInvalid(t *testing.T) {
	var decoded ID
	if err := json.Unmarshal([]byte(`"not-a-uuid"`), &decoded); err == nil {
		t.Error("expected error for invalid UUID in JSON")
	}
}
