package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAPIKeyShowsFourCharacters(t *testing.T) {
	raw := KeyPrefix + "a1b2" + strings.Repeat("c", 60)
	assert.Equal(t, "vlk_a1b2********", MaskAPIKey(raw))
	assert.True(t, LooksLikeAPIKey(raw))
	assert.False(t, LooksLikeAPIKey("vk_"+strings.Repeat("c", 64)))
}
