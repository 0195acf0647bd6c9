package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"localhost preview", "http://localhost:8080/", false},
		{"https registry", "https://packages.typst.org", false},
		{"file scheme", "file:///etc/passwd", true},
		{"javascript scheme", "javascript:alert(1)", true},
		{"no host", "http://", true},
		{"shell injection", "http://localhost:8080/;rm -rf /", true},
		{"quote", "http://localhost/\"", true},
		{"space", "http://localhost/a b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRegistryURL(t *testing.T) {
	u, err := ValidateRegistryURL("http://127.0.0.1:4000/registry")
	require.NoError(t, err)
	assert.Equal(t, "/registry", u.Path)

	_, err = ValidateRegistryURL("ftp://packages.example")
	assert.Error(t, err)
}
