package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// MAP[STRING]ANY TESTS
// =============================================================================

func TestSafeMapStringAny(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantMap  map[string]any
		wantBool bool
	}{
		{
			name:     "valid map",
			input:    map[string]any{"key": "value"},
			wantMap:  map[string]any{"key": "value"},
			wantBool: true,
		},
		{
			name:     "nil value",
			input:    nil,
			wantMap:  nil,
			wantBool: false,
		},
		{
			name:     "wrong type string",
			input:    "not a map",
			wantMap:  nil,
			wantBool: false,
		},
		{
			name:     "empty map",
			input:    map[string]any{},
			wantMap:  map[string]any{},
			wantBool: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeMapStringAny(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantMap, got)
		})
	}
}

func TestSafeMapStringAnyDefault(t *testing.T) {
	fallback := map[string]any{"default": true}
	assert.Equal(t, map[string]any{"k": 1}, SafeMapStringAnyDefault(map[string]any{"k": 1}, fallback))
	assert.Equal(t, fallback, SafeMapStringAnyDefault("nope", fallback))
	assert.Equal(t, fallback, SafeMapStringAnyDefault(nil, fallback))
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestSafeString(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantStr  string
		wantBool bool
	}{
		{"valid string", "hello", "hello", true},
		{"empty string", "", "", true},
		{"nil value", nil, "", false},
		{"wrong type int", 42, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeString(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantStr, got)
		})
	}
}

func TestSafeStringDefault(t *testing.T) {
	assert.Equal(t, "value", SafeStringDefault("value", "default"))
	assert.Equal(t, "default", SafeStringDefault(nil, "default"))
	assert.Equal(t, "default", SafeStringDefault(123, "default"))
}

// =============================================================================
// INT TESTS
// =============================================================================

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantInt  int
		wantBool bool
	}{
		{"valid int", 42, 42, true},
		{"int64", int64(42), 42, true},
		{"int32", int32(42), 42, true},
		{"float64 from JSON", float64(42), 42, true},
		{"float32", float32(42), 42, true},
		{"nil value", nil, 0, false},
		{"wrong type string", "42", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantInt, got)
		})
	}
}

func TestSafeIntDefault(t *testing.T) {
	assert.Equal(t, 7, SafeIntDefault(7, 99))
	assert.Equal(t, 7, SafeIntDefault(float64(7), 99))
	assert.Equal(t, 99, SafeIntDefault("7", 99))
	assert.Equal(t, 99, SafeIntDefault(nil, 99))
}

// =============================================================================
// FLOAT64 TESTS
// =============================================================================

func TestSafeFloat64(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantFloat float64
		wantBool  bool
	}{
		{"valid float64", 3.14, 3.14, true},
		{"float32", float32(2.5), 2.5, true},
		{"int", 42, 42.0, true},
		{"int64", int64(42), 42.0, true},
		{"nil value", nil, 0, false},
		{"wrong type string", "3.14", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeFloat64(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantFloat, got)
		})
	}
}

func TestSafeFloat64Default(t *testing.T) {
	assert.Equal(t, 3.14, SafeFloat64Default(3.14, 99.0))
	assert.Equal(t, 42.0, SafeFloat64Default(42, 99.0))
	assert.Equal(t, 99.0, SafeFloat64Default("3.14", 99.0))
}

// =============================================================================
// BOOL TESTS
// =============================================================================

func TestSafeBool(t *testing.T) {
	got, ok := SafeBool(true)
	assert.True(t, ok)
	assert.True(t, got)

	got, ok = SafeBool(nil)
	assert.False(t, ok)
	assert.False(t, got)

	got, ok = SafeBool("true")
	assert.False(t, ok)
	assert.False(t, got)
}

func TestSafeBoolDefault(t *testing.T) {
	assert.True(t, SafeBoolDefault(true, false))
	assert.True(t, SafeBoolDefault(nil, true))
	assert.False(t, SafeBoolDefault("true", false))
}
