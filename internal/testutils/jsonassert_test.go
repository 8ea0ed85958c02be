package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).Options()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		actual    string
		expected  string
		wantMatch bool
	}{
		{
			name:      "identical objects",
			actual:    `{"id":"abc","full_name":"Alice"}`,
			expected:  `{"full_name":"Alice","id":"abc"}`,
			wantMatch: true,
		},
		{
			name:      "extra keys ignored by default",
			actual:    `{"id":"abc","full_name":"Alice","time_entered":"now"}`,
			expected:  `{"full_name":"Alice"}`,
			wantMatch: true,
		},
		{
			name:      "extra keys reported when strict",
			opts:      []Option{WithIgnoreExtraKeys(false)},
			actual:    `{"id":"abc","full_name":"Alice"}`,
			expected:  `{"full_name":"Alice"}`,
			wantMatch: false,
		},
		{
			name:      "presence placeholder accepts any value",
			actual:    `{"id":"Zx81kLmn0pQr2St","full_name":"Alice"}`,
			expected:  `{"id":"<<PRESENCE>>","full_name":"Alice"}`,
			wantMatch: true,
		},
		{
			name:      "presence placeholder still requires the key",
			actual:    `{"full_name":"Alice"}`,
			expected:  `{"id":"<<PRESENCE>>","full_name":"Alice"}`,
			wantMatch: false,
		},
		{
			name:      "placeholder disabled",
			opts:      []Option{WithAllowPresencePlaceholder(false)},
			actual:    `{"id":"abc"}`,
			expected:  `{"id":"<<PRESENCE>>"}`,
			wantMatch: false,
		},
		{
			name:      "ignored fields at depth",
			opts:      []Option{WithIgnoredFields("time_entered")},
			actual:    `{"attendees":[{"id":"1","time_entered":1}]}`,
			expected:  `{"attendees":[{"id":"1","time_entered":2}]}`,
			wantMatch: true,
		},
		{
			name:      "root arrays",
			actual:    `[{"id":"AA:01"},{"id":"BB:02"}]`,
			expected:  `[{"id":"AA:01"},{"id":"BB:02"}]`,
			wantMatch: true,
		},
		{
			name:      "root array order matters",
			actual:    `[{"id":"BB:02"},{"id":"AA:01"}]`,
			expected:  `[{"id":"AA:01"},{"id":"BB:02"}]`,
			wantMatch: false,
		},
		{
			name:      "changed value",
			actual:    `{"full_name":"Bob"}`,
			expected:  `{"full_name":"Alice"}`,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.wantMatch {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `nope`), "invalid expected JSON")
}
