package gateway

import (
	"regexp"
	"strings"
)

// The upstream returns pairing and QR material under shifting key names
// depending on version and integration. Extraction is an ordered list of
// key strategies over a depth-bounded tree walk, so a new payload shape is
// one list entry, not another round of duck typing.

const maxSearchDepth = 6

var (
	pairingCodeKeys  = []string{"pairingCode", "pairing_code", "code"}
	qrCodeKeys       = []string{"base64", "qrcode", "qrCode", "qr", "code"}
	pairingCodeRegex = regexp.MustCompile(`^[A-Za-z0-9]{6,12}$`)
	base64Regex      = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)
)

const minBase64Length = 128

// ExtractPairingCode returns the pairing code found in an upstream payload,
// or "" when none is present yet. The bare "code" key is only trusted when
// its value looks like a pairing code, since the same key also carries QR
// material.
func ExtractPairingCode(data any) string {
	for _, key := range pairingCodeKeys {
		for _, value := range findStrings(data, key, 0) {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			if key == "code" && !pairingCodeRegex.MatchString(value) {
				continue
			}
			return value
		}
	}
	return ""
}

// ExtractQRCodeDataURL returns a renderable data URL for the QR image in an
// upstream payload, or "" when no code is extractable yet. Callers must
// treat "" as pending, not as an error.
func ExtractQRCodeDataURL(data any) string {
	for _, key := range qrCodeKeys {
		for _, value := range findStrings(data, key, 0) {
			value = strings.TrimSpace(value)
			if strings.HasPrefix(value, "data:image/") {
				return value
			}
			if len(value) >= minBase64Length && base64Regex.MatchString(value) {
				return "data:image/png;base64," + value
			}
		}
	}
	return ""
}

// findStrings walks the decoded JSON tree collecting string values stored
// under key, in depth-first order. The depth bound guards against
// pathological payloads from a misbehaving upstream.
func findStrings(data any, key string, depth int) []string {
	if depth > maxSearchDepth {
		return nil
	}

	var found []string
	switch node := data.(type) {
	case map[string]any:
		if value, ok := node[key].(string); ok {
			found = append(found, value)
		}
		for _, child := range node {
			found = append(found, findStrings(child, key, depth+1)...)
		}
	case []any:
		for _, child := range node {
			found = append(found, findStrings(child, key, depth+1)...)
		}
	}
	return found
}
