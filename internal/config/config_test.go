package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnvironment(t *testing.T) {
	t.Setenv("COMPOSE_SPACE_TABLE_NAME", "spaces")
	t.Setenv("COMPOSE_IDLE_TIMEOUT", "2m")
	t.Setenv("COMPOSE_LIMITS_MAX_MAIL_SIZE", "1024")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SpaceTableName != "spaces" {
		t.Errorf("SpaceTableName = %q, want spaces", cfg.SpaceTableName)
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %v, want 2m", cfg.IdleTimeout)
	}
	if cfg.CheckInterval != 5*time.Minute {
		t.Errorf("CheckInterval = %v, want 5m", cfg.CheckInterval)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
	if cfg.MaxSpaces != 20 {
		t.Errorf("MaxSpaces = %d, want 20", cfg.MaxSpaces)
	}
	if cfg.Limits.MaxMailSize != 1024 {
		t.Errorf("MaxMailSize = %d, want 1024", cfg.Limits.MaxMailSize)
	}
	if cfg.DraftsFolder != "Drafts" {
		t.Errorf("DraftsFolder = %q, want Drafts", cfg.DraftsFolder)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	content := `
space_table_name: spaces
attachment_backend: blob
attachment_table_name: attachments
blob_url: https://blob.example.com
smtp:
  addr: smtp.example.com:587
  username: me
mail_accounts:
  - id: 0
    addr: imap.example.com:993
    username: me
    security: tls
  - id: 1
    addr: imap.other.example:143
    security: starttls
    drafts_folder: Entwürfe
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COMPOSE_SMTP_USERNAME", "override")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AttachmentBackend != BackendBlob || cfg.BlobURL != "https://blob.example.com" {
		t.Errorf("backend = %q at %q", cfg.AttachmentBackend, cfg.BlobURL)
	}
	if cfg.SMTP.Addr != "smtp.example.com:587" {
		t.Errorf("SMTP.Addr = %q", cfg.SMTP.Addr)
	}
	if cfg.SMTP.Username != "override" {
		t.Errorf("SMTP.Username = %q, want the environment value", cfg.SMTP.Username)
	}
	if len(cfg.MailAccounts) != 2 {
		t.Fatalf("MailAccounts = %d, want 2", len(cfg.MailAccounts))
	}
	if got := cfg.MailAccounts[1]; got.ID != 1 || got.DraftsFolder != "Entwürfe" || got.Security != "starttls" {
		t.Errorf("second account = %+v", got)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("COMPOSE_SPACE_TABLE_NAME", "spaces")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			SpaceTableName:    "spaces",
			MaxSpaces:         20,
			AttachmentBackend: BackendDB,
			AttachmentDBPath:  "attachments.db",
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no table", func(c *Config) { c.SpaceTableName = "" }, "space_table_name"},
		{"unknown backend", func(c *Config) { c.AttachmentBackend = "s3" }, "unknown attachment_backend"},
		{"blob without url", func(c *Config) { c.AttachmentBackend = BackendBlob }, "blob_url"},
		{"db without path", func(c *Config) { c.AttachmentDBPath = "" }, "attachment_db_path"},
		{"no spaces", func(c *Config) { c.MaxSpaces = 0 }, "max_spaces"},
		{"duplicate account", func(c *Config) {
			c.MailAccounts = []MailAccount{{ID: 1}, {ID: 1}}
		}, "duplicate mail account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
