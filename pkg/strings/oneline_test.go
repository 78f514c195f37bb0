package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOneLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{"short message unchanged", "deployed", 10, "deployed"},
		{"exact width unchanged", "deployed", 8, "deployed"},
		{"long message cut", "element web failed to deploy: timeout", 20, "element web faile..."},
		{"multi-line error flattened", "apply failed:\n\tconfigmap exists", 60, "apply failed: configmap exists"},
		{"runes are not split", "über-langer Fehler", 8, "über-..."},
		{"tiny width clamped", "abcdefgh", 1, "a..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OneLine(tt.input, tt.width))
		})
	}
}
