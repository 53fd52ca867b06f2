package main

import (
	"strings"
	"testing"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantCfg   cliConfig
		wantError string
	}{
		{
			name:    "flag",
			args:    []string{"-db", "postgres://localhost/cli"},
			wantCfg: cliConfig{dbURL: "postgres://localhost/cli"},
		},
		{
			name:    "env var",
			args:    []string{"-status"},
			envVars: map[string]string{"DATABASE_URL": "postgres://localhost/env"},
			wantCfg: cliConfig{dbURL: "postgres://localhost/env", status: true},
		},
		{
			name:    "flag takes precedence",
			args:    []string{"-db", "postgres://localhost/cli", "-dir", "./db/migrations"},
			envVars: map[string]string{"DATABASE_URL": "postgres://localhost/env"},
			wantCfg: cliConfig{dbURL: "postgres://localhost/cli", dir: "./db/migrations"},
		},
		{
			name:      "missing database",
			wantError: "database URL not provided",
		},
		{
			name:      "invalid flag",
			args:      []string{"--nonexistent"},
			wantError: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := parseConfig(tt.args)
			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg != tt.wantCfg {
				t.Errorf("cfg = %+v, want %+v", cfg, tt.wantCfg)
			}
		})
	}
}
