package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "absent.toml")); err == nil {
		t.Fatalf("配置文件不存在时应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
CacheDir = "./data"
Timeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadResolvesDurations(t *testing.T) {
	cfg := `
CacheDir = "./data"
Timeout = "1m"
ConnectTimeout = 2.5
InitialBackoff = "100ms"
TempGracePeriod = 600
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}

	got := map[string]time.Duration{
		"Timeout":         loaded.Timeout.DurationValue(),
		"ConnectTimeout":  loaded.ConnectTimeout.DurationValue(),
		"InitialBackoff":  loaded.InitialBackoff.DurationValue(),
		"TempGracePeriod": loaded.TempGracePeriod.DurationValue(),
	}
	want := map[string]time.Duration{
		"Timeout":         time.Minute,
		"ConnectTimeout":  2500 * time.Millisecond,
		"InitialBackoff":  100 * time.Millisecond,
		"TempGracePeriod": 10 * time.Minute,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("duration mismatch (-want +got):\n%s", diff)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("45")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.DurationValue() != 45*time.Second {
		t.Fatalf("expected 45s, got %s", d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("later")); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
