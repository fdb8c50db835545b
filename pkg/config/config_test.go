package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFile)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFrom(t *testing.T) {
	path := writeConfig(t, "device: /dev/piehook1\ntimeout: 1500ms\ncolor: never\ndefault-export: /tmp/layout.json\n")
	c, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Device != "/dev/piehook1" || c.Color != ColorNever || c.DefaultExport != "/tmp/layout.json" {
		t.Fatalf("unexpected config %#v", c)
	}
	d, err := c.TimeoutDuration()
	if err != nil || d != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout %v, %v", d, err)
	}
}

func TestLoadConfigFromErrors(t *testing.T) {
	for _, content := range []string{
		"color: purple\n",
		"timeout: soon\n",
		"timeout: -1s\n",
		"unknown-key: 1\n",
		"device: [a, b]\n",
	} {
		path := writeConfig(t, content)
		if _, err := LoadConfigFrom(path); err == nil {
			t.Errorf("expected error loading %q", content)
		}
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDefaultConfig(&buf); err != nil {
		t.Fatal(err)
	}
	var c Config
	if err := yaml.UnmarshalStrict(buf.Bytes(), &c); err != nil {
		t.Fatalf("default config does not decode: %v", err)
	}
	if c != (Config{}) {
		t.Fatalf("default config should leave every option unset, got %#v", c)
	}

	// Every documented option must decode once uncommented.
	var enabled []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "# ") && strings.Contains(line, ": ") && !strings.Contains(line, ".") {
			enabled = append(enabled, strings.TrimPrefix(line, "# "))
		}
	}
	enabled = append(enabled, "default-export: ~/.config/piectl/layout.json")
	if err := yaml.UnmarshalStrict([]byte(strings.Join(enabled, "\n")), &c); err != nil {
		t.Fatalf("uncommented default config does not decode: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIECTL_CONFIG_DIR", dir)
	c := LoadConfig()
	if *c != (Config{}) {
		t.Fatalf("expected empty config, got %#v", c)
	}
	if _, err := os.Stat(filepath.Join(dir, configFile)); err != nil {
		t.Fatalf("default config not created: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip(err)
	}
	if got, want := ExpandHome("~/layout.json"), filepath.Join(home, "layout.json"); got != want {
		t.Fatalf("got %q, expected %q", got, want)
	}
	if got := ExpandHome("/abs/layout.json"); got != "/abs/layout.json" {
		t.Fatalf("absolute path changed: %q", got)
	}
	if got := ExpandHome("~user/x"); got != "~user/x" {
		t.Fatalf("~user path changed: %q", got)
	}
}
