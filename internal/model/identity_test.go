package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "plain", id: "u1"},
		{name: "namespaced", id: "contact:42"},
		{name: "at the length limit", id: strings.Repeat("a", MaxIdentityLength)},
		{name: "empty", id: "", wantErr: true},
		{name: "too long", id: strings.Repeat("a", MaxIdentityLength+1), wantErr: true},
		{name: "NUL", id: "bad\x00id", wantErr: true},
		{name: "tab", id: "tab\tid", wantErr: true},
		{name: "DEL", id: "del\x7fid", wantErr: true},
		{name: "invalid UTF-8", id: string([]byte{0xff, 0xfe}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.id)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidIdentity)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
