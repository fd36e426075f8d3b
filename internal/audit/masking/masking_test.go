package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "vlk_****", MaskSecret("vlk_abcd"))
	assert.Equal(t, "vlk_****wxyz", MaskSecret("vlk_0123456789abcdefwxyz"))
	assert.Equal(t, "****6789", MaskSecret("abcdef0123456789"))
}

func TestMaskSensitive(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"api_key": "vlk_0123456789abcdefwxyz",
		"name":    "Downtown",
		"nested":  map[string]any{"inviteToken": "0123456789abcdef"},
		"masked":  "vlk_****wxyz",
		"count":   3,
	})
	assert.Equal(t, "vlk_****wxyz", out["api_key"])
	assert.Equal(t, "Downtown", out["name"])
	assert.Equal(t, "****cdef", out["nested"].(map[string]any)["inviteToken"])
	assert.Equal(t, 3, out["count"])
}
