package config_test

import (
	"path/filepath"
	"testing"

	"ciallo/internal/config"
)

func TestResolveDataDir_OverrideWins(t *testing.T) {
	c := config.ServerConfig{DataDir: "/tmp/ciallo-test"}
	dir, err := c.ResolveDataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "/tmp/ciallo-test" {
		t.Errorf("got %q, want the override", dir)
	}
}

func TestResolveDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	dir, err := config.ServerConfig{}.ResolveDataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join("/xdg/data", "ciallo"); dir != want {
		t.Errorf("got %q, want %q", dir, want)
	}
}

func TestResolveDataDir_HomeFallback(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/tester")
	dir, err := config.ServerConfig{}.ResolveDataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join("/home/tester", ".local", "share", "ciallo"); dir != want {
		t.Errorf("got %q, want %q", dir, want)
	}
}
