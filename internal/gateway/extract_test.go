package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPairingCode(t *testing.T) {
	tests := []struct {
		name     string
		data     any
		expected string
	}{
		{
			name:     "top-level pairingCode",
			data:     map[string]any{"pairingCode": "ABCD1234"},
			expected: "ABCD1234",
		},
		{
			name:     "snake_case variant",
			data:     map[string]any{"pairing_code": "WXYZ9876"},
			expected: "WXYZ9876",
		},
		{
			name: "nested under instance",
			data: map[string]any{
				"instance": map[string]any{"pairingCode": "NESTED01"},
			},
			expected: "NESTED01",
		},
		{
			name:     "bare code key accepted when it looks like a pairing code",
			data:     map[string]any{"code": "PLAIN123"},
			expected: "PLAIN123",
		},
		{
			name:     "bare code key rejected when it carries QR material",
			data:     map[string]any{"code": "2@" + strings.Repeat("x", 200)},
			expected: "",
		},
		{
			name: "pairingCode key wins over code key",
			data: map[string]any{
				"code":        "OTHER999",
				"pairingCode": "WINNER01",
			},
			expected: "WINNER01",
		},
		{
			name:     "whitespace-only value is pending",
			data:     map[string]any{"pairingCode": "   "},
			expected: "",
		},
		{
			name:     "missing code is pending",
			data:     map[string]any{"status": "connecting"},
			expected: "",
		},
		{
			name:     "non-object payload is pending",
			data:     []any{"a", "b"},
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractPairingCode(tc.data))
		})
	}
}

func TestExtractQRCodeDataURL(t *testing.T) {
	longBase64 := strings.Repeat("iVBORw0KGgoAAAANSUhEUg", 24) + "=="

	tests := []struct {
		name     string
		data     any
		expected string
	}{
		{
			name:     "raw base64 gets wrapped as a PNG data URL",
			data:     map[string]any{"base64": longBase64},
			expected: "data:image/png;base64," + longBase64,
		},
		{
			name:     "existing data URL passes through untouched",
			data:     map[string]any{"qrcode": "data:image/jpeg;base64,abc"},
			expected: "data:image/jpeg;base64,abc",
		},
		{
			name: "nested qrcode object",
			data: map[string]any{
				"qrcode": map[string]any{"base64": longBase64},
			},
			expected: "data:image/png;base64," + longBase64,
		},
		{
			name:     "short base64 is not a QR image",
			data:     map[string]any{"base64": "aGVsbG8="},
			expected: "",
		},
		{
			name:     "pairing-code-shaped value under code is ignored",
			data:     map[string]any{"code": "ABCD1234"},
			expected: "",
		},
		{
			name:     "unrelated payload is pending",
			data:     map[string]any{"status": "connecting"},
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractQRCodeDataURL(tc.data))
		})
	}
}

func TestFindStringsDepthBound(t *testing.T) {
	// Bury the value one level past the search bound.
	leaf := map[string]any{"pairingCode": "DEEP1234"}
	var node any = leaf
	for i := 0; i <= maxSearchDepth; i++ {
		node = map[string]any{"wrap": node}
	}

	assert.Empty(t, findStrings(node, "pairingCode", 0))
	assert.Equal(t, "", ExtractPairingCode(node))

	// One level shallower is still reachable.
	node = leaf
	for i := 0; i < maxSearchDepth; i++ {
		node = map[string]any{"wrap": node}
	}
	assert.Equal(t, "DEEP1234", ExtractPairingCode(node))
}
