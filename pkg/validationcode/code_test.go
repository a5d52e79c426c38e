package validationcode

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Format(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 150)
}

func TestGenerate_ZeroPadded(t *testing.T) {
	code, err := generate(bytes.NewReader(make([]byte, 64)))
	require.NoError(t, err)
	assert.Equal(t, "000000", code)
}

func TestGenerate_ReaderFailure(t *testing.T) {
	_, err := generate(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		expected  string
		candidate string
		want      bool
	}{
		{"match", "042917", "042917", true},
		{"mismatch", "042917", "042918", false},
		{"short candidate", "042917", "42917", false},
		{"empty expected", "", "", false},
		{"empty candidate", "042917", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.expected, tt.candidate))
		})
	}
}
