package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadProfileMissingUsesDefaults(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "roam.toml"))
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q, want %q", p.APIBaseURL, DefaultAPIBaseURL)
	}
	if p.RealtimeURL != p.APIBaseURL {
		t.Errorf("RealtimeURL = %q, want it to follow APIBaseURL", p.RealtimeURL)
	}
	if p.RefreshPath != "/api/refresh" {
		t.Errorf("RefreshPath = %q, want /api/refresh", p.RefreshPath)
	}
	if p.EchoWindow.Duration != 10*time.Second {
		t.Errorf("EchoWindow = %v, want 10s", p.EchoWindow.Duration)
	}
}

func TestProfileRoundTripDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roam.toml")
	in := &Profile{
		APIBaseURL:     "https://api.example.com/",
		PendingTimeout: Duration{45 * time.Second},
	}
	if err := SaveProfile(path, in); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `pending_timeout = "45s"`) {
		t.Errorf("durations should be written as strings, got:\n%s", data)
	}

	out, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.PendingTimeout.Duration != 45*time.Second {
		t.Errorf("PendingTimeout = %v, want 45s", out.PendingTimeout.Duration)
	}
	if out.APIBaseURL != "https://api.example.com" {
		t.Errorf("APIBaseURL = %q, want trailing slash trimmed", out.APIBaseURL)
	}
}

func TestLoadProfileInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roam.toml")
	if err := os.WriteFile(path, []byte(`echo_window = "soon"`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Error("LoadProfile() expected error for invalid duration")
	}
}
