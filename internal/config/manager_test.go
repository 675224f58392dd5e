package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `account: main
data_dir: /tmp/blastbot
telegram:
  token: "123:abc"
  owner_user_ids: [100, 200]
  poll_timeout: 10s
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: /tmp/blastbot.log
report:
  rate_per_sec: 2
storage:
  busy_timeout: 5s
`

func TestLoadValid(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Account != "main" || cfg.DataDir != "/tmp/blastbot" {
		t.Errorf("account/data_dir = %q/%q", cfg.Account, cfg.DataDir)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[0] != 100 {
		t.Errorf("owner ids = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console || !cfg.Logging.File.Enabled {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Report.RatePerSec != 2 {
		t.Errorf("rate_per_sec = %d", cfg.Report.RatePerSec)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get did not return the committed config")
	}
}

func TestLoadMinimal(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "account: a\ntelegram:\n  token: t\n"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Account != "a" || cfg.Telegram.Token != "t" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "account: a\nbogus: 1\ntelegram:\n  token: t\n",
			wantErr: "bogus",
		},
		{
			name:    "missing account",
			content: "telegram:\n  token: t\n",
			wantErr: "account",
		},
		{
			name:    "missing token",
			content: "account: a\ntelegram:\n  owner_user_ids: [1]\n",
			wantErr: "token",
		},
		{
			name:    "bad duration",
			content: "account: a\ntelegram:\n  token: t\n  poll_timeout: soon\n",
			wantErr: "poll_timeout",
		},
		{
			name:    "not yaml",
			content: "{{{{",
			wantErr: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, tt.content))
			_, err := m.Load()
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := m.Load(); err == nil {
		t.Fatal("Load succeeded on missing file")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "1m30s")
	if err != nil {
		t.Fatalf("ParseDurationField: %v", err)
	}
	if d.Seconds() != 90 {
		t.Errorf("d = %v, want 90s", d)
	}

	// empty is valid and means "use the default"
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Errorf("empty field: d=%v err=%v", d, err)
	}

	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Error("bad duration accepted")
	}
}
