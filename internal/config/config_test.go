package config

import (
	"os"
	"testing"
)

func TestValidate_BackendNames(t *testing.T) {
	tests := []struct {
		backend string
		apiKey  string
		wantErr bool
	}{
		{"portable", "", false},
		{"remote", "key", false},
		{"remote", "", true},
		{"onnx", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := Config{
				HTTP:      HTTPConfig{Port: 8642},
				Embedding: EmbeddingConfig{Backend: tt.backend, APIKey: tt.apiKey},
			}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Config{
		HTTP:      HTTPConfig{Port: 70000},
		Embedding: EmbeddingConfig{Backend: "portable"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 8642 {
		t.Errorf("default port = %d, want 8642", cfg.HTTP.Port)
	}
	if cfg.Embedding.Backend != "portable" {
		t.Errorf("default backend = %q, want portable", cfg.Embedding.Backend)
	}
	if cfg.Embedding.Dimensions != 256 {
		t.Errorf("default dimensions = %d, want 256", cfg.Embedding.Dimensions)
	}
	if cfg.Store.Path == "" {
		t.Error("default store path is empty")
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("SEMINDEX_TEST_KEY", "secret")
	defer os.Unsetenv("SEMINDEX_TEST_KEY")

	in := []byte("api_key: ${SEMINDEX_TEST_KEY}\nbase_url: ${SEMINDEX_TEST_MISSING:-http://localhost}\n")
	out := string(expandEnvVars(in))

	want := "api_key: secret\nbase_url: http://localhost\n"
	if out != want {
		t.Errorf("expanded = %q, want %q", out, want)
	}
}
