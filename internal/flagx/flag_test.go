package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{"separate value", []string{"-c", "conf.json", "--server", "x"}, []string{"-c"}, []string{"-c", "conf.json"}},
		{"equals form", []string{"--config=alt.json", "sync"}, []string{"--config"}, []string{"--config=alt.json"}},
		{"unknown ignored", []string{"answer", "insp-1", "--notes=x"}, []string{"-c", "--config"}, []string{}},
		{"no value at end", []string{"-c"}, []string{"-c"}, []string{"-c"}},
		{"next token is a flag", []string{"-c", "--verbose"}, []string{"-c"}, []string{"-c"}},
		{"repeated keeps order", []string{"-c", "a.json", "-c", "b.json"}, []string{"-c"}, []string{"-c", "a.json", "-c", "b.json"}},
		{"empty", nil, []string{"-c"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"sync", "-c", "/etc/runner.json"}, "/etc/runner.json"},
		{"single dash long", []string{"-config", "/p/long.json"}, "/p/long.json"},
		{"double dash long", []string{"status", "--config", "/p/double.json"}, "/p/double.json"},
		{"double dash equals", []string{"--config=/p/eq.json", "watch"}, "/p/eq.json"},
		{"last wins", []string{"-c", "/p/1.json", "--config", "/p/2.json"}, "/p/2.json"},
		{"absent", []string{"answer", "insp-1", "r-1", "pass"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}
