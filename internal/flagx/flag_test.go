package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		allowed  []string
		expected []string
	}{
		{
			name:     "separate value",
			args:     []string{"-a", "127.0.0.1:8080", "-x", "ignored"},
			allowed:  []string{"-a"},
			expected: []string{"-a", "127.0.0.1:8080"},
		},
		{
			name:     "equals form",
			args:     []string{"--config=conf.json", "-v"},
			allowed:  []string{"--config"},
			expected: []string{"--config=conf.json"},
		},
		{
			name:     "flag without value",
			args:     []string{"-d", "-a", "addr"},
			allowed:  []string{"-d"},
			expected: []string{"-d"},
		},
		{
			name:     "nothing allowed",
			args:     []string{"-a", "addr"},
			allowed:  []string{"-z"},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"cmd", "-c", "conf.json"}
	assert.Equal(t, "conf.json", JsonConfigFlags())

	os.Args = []string{"cmd"}
	assert.Equal(t, "", JsonConfigFlags())
}
