package config_test

import (
	"testing"
	"time"

	"github.com/rai/orderhistory-go/internal/platform/config"
)

type sample struct {
	Name    string        `env:"NAME" envDefault:"order-history"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
	Nested  struct {
		Port int `env:"PORT" envDefault:"8080"`
	} `envPrefix:"HTTP_"`
}

func TestParseEnvWith(t *testing.T) {
	var got sample
	err := config.ParseEnvWith(&got, map[string]string{
		"TIMEOUT":   "2s",
		"HTTP_PORT": "9090",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Name != "order-history" {
		t.Errorf("name = %q, want default", got.Name)
	}
	if got.Timeout != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", got.Timeout)
	}
	if got.Nested.Port != 9090 {
		t.Errorf("port = %d, want 9090", got.Nested.Port)
	}
}

func TestParseEnvWith_InvalidValue(t *testing.T) {
	var got sample
	if err := config.ParseEnvWith(&got, map[string]string{"TIMEOUT": "soon"}); err == nil {
		t.Fatal("expected error")
	}
}
