package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"empty", "", ""},
		{"international number", "+12025550101", "+*******0101"},
		{"bare plus", "+", "+"},
		{"short international", "+1202", "+****"},
		{"national number", "2025550101", "******0101"},
		{"short number", "123", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskPhoneNumber(tt.phone))
		})
	}
}

func TestMaskIdentityKey(t *testing.T) {
	assert.Equal(t, "", MaskIdentityKey(""))
	assert.Equal(t, "********", MaskIdentityKey("shortkey"))
	assert.Equal(t, "BfQdHq3m…", MaskIdentityKey("BfQdHq3mPzW0aVeryLongKey"))
}

func TestMaskRecipientID(t *testing.T) {
	assert.Equal(t, "7", MaskRecipientID(7))
	assert.Equal(t, "42", MaskRecipientID(42))
	assert.Equal(t, "*01", MaskRecipientID(101))
	assert.Equal(t, "****89", MaskRecipientID(123489))
}
