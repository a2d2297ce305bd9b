package users

import (
	"testing"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a@b.co", "a@b.co", true},
		{"josé@x.com", "josé@x.com", true},
		{" Núñez.Ana@Correo.ES ", "núñez.ana@correo.es", true},
		{"user_1@sub.example.org", "user_1@sub.example.org", true},
		{"用户@例子.中国", "用户@例子.中国", true},
		{"not-an-email", "", false},
		{"a b@x.com", "", false},
		{"a@x", "", false},
		{"@x.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := validateEmail(tt.in)
			if !tt.ok {
				require.ErrorIs(t, err, apperr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
