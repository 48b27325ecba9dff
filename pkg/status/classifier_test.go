package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		health   Health
		expected Status
	}{
		{
			name:     "board ok pc ok",
			health:   Health{Board: "OK", PC: "OK"},
			expected: Normal,
		},
		{
			name:     "board failed pc ok",
			health:   Health{Board: "FAIL", PC: "OK"},
			expected: Shutdown,
		},
		{
			name:     "board ok pc failed",
			health:   Health{Board: "OK", PC: "NG"},
			expected: Shutdown,
		},
		{
			name:     "board failed pc failed",
			health:   Health{Board: "FAIL", PC: "FAIL"},
			expected: Unknown,
		},
		{
			name:     "missing fields treated as not ok",
			health:   Health{},
			expected: Unknown,
		},
		{
			name:     "lowercase ok is not ok",
			health:   Health{Board: "ok", PC: "OK"},
			expected: Shutdown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.health))
		})
	}
}

func TestClassifyTotality(t *testing.T) {
	// Every BOARD x PC combination must land on exactly one of the three
	// report-derived statuses.
	values := []string{"OK", "NG", "", "garbage"}

	for _, board := range values {
		for _, pc := range values {
			got := Classify(Health{Board: board, PC: pc})
			assert.Contains(t, []Status{Normal, Shutdown, Unknown}, got,
				"BOARD=%q PC=%q", board, pc)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{Normal, Shutdown, Warning, Unknown, Reset, Unset} {
		assert.True(t, s.Valid(), "status %q", s)
	}

	assert.False(t, Status("Rebooting").Valid())
}
