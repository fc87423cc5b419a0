package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStrongPassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     bool
	}{
		{"valid", "Aa1!aaaa", true},
		{"too short", "Aa1!aaa", false},
		{"no uppercase", "aa1!aaaa", false},
		{"no digit", "Aa!!aaaa", false},
		{"no symbol", "Aa1aaaaa", false},
		{"empty", "", false},
		{"long valid", "Sup3r-Secret-Passw0rd!", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsStrongPassword(tc.password))
		})
	}
}

func TestValidatorPasswordTag(t *testing.T) {
	v := New()

	type payload struct {
		Password string `validate:"required,password"`
	}

	require.NoError(t, v.Struct(payload{Password: "Aa1!aaaa"}))
	require.Error(t, v.Struct(payload{Password: "weakpass"}))
}
