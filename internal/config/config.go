// Package config loads the compose server configuration from an optional
// YAML file and COMPOSE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, so space_table_name is
// read from COMPOSE_SPACE_TABLE_NAME.
const EnvPrefix = "COMPOSE"

// Attachment backends.
const (
	BackendDB   = "db"
	BackendBlob = "blob"
)

// MailAccount configures one IMAP account.
type MailAccount struct {
	ID           int    `mapstructure:"id"`
	Addr         string `mapstructure:"addr"`
	Username     string `mapstructure:"username"`
	Security     string `mapstructure:"security"`
	DraftsFolder string `mapstructure:"drafts_folder"`
}

// SMTP configures message submission.
type SMTP struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Security string `mapstructure:"security"`
}

// Keyring configures where mail account passwords are kept.
type Keyring struct {
	ServiceName  string   `mapstructure:"service_name"`
	FileDir      string   `mapstructure:"file_dir"`
	FilePassword string   `mapstructure:"file_password"`
	Backends     []string `mapstructure:"backends"`
}

// Limits bounds message sizes.
type Limits struct {
	MaxMailSize      int64 `mapstructure:"max_mail_size"`
	MaxSubjectLength int   `mapstructure:"max_subject_length"`
	MaxContentLength int   `mapstructure:"max_content_length"`
	MaxHeaderLength  int   `mapstructure:"max_header_length"`
}

// Config is the server configuration.
type Config struct {
	Listen string `mapstructure:"listen"`
	// Domain is the right-hand side of generated Message-IDs.
	Domain string `mapstructure:"domain"`

	SpaceTableName      string        `mapstructure:"space_table_name"`
	MaxSpaces           int           `mapstructure:"max_spaces"`
	SpaceTTL            time.Duration `mapstructure:"space_ttl"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	AttachmentBackend   string        `mapstructure:"attachment_backend"`
	AttachmentDBPath    string        `mapstructure:"attachment_db_path"`
	AttachmentTableName string        `mapstructure:"attachment_table_name"`
	BlobURL             string        `mapstructure:"blob_url"`
	DeleteQueueURL      string        `mapstructure:"delete_queue_url"`

	DraftsMailAccount       int    `mapstructure:"drafts_mail_account"`
	DraftsFolder            string `mapstructure:"drafts_folder"`
	SharedAttachmentsFolder string `mapstructure:"shared_attachments_folder"`

	Limits       Limits        `mapstructure:"limits"`
	SMTP         SMTP          `mapstructure:"smtp"`
	Keyring      Keyring       `mapstructure:"keyring"`
	MailAccounts []MailAccount `mapstructure:"mail_accounts"`
}

var defaults = map[string]any{
	"listen":                    ":8080",
	"domain":                    "localhost",
	"max_spaces":                20,
	"space_ttl":                 "168h",
	"idle_timeout":              "10m",
	"check_interval":            "5m",
	"session_timeout":           "30m",
	"sweep_interval":            "1m",
	"attachment_backend":        BackendDB,
	"attachment_db_path":        "attachments.db",
	"attachment_table_name":     "",
	"space_table_name":          "",
	"blob_url":                  "",
	"delete_queue_url":          "",
	"drafts_mail_account":       0,
	"drafts_folder":             "Drafts",
	"shared_attachments_folder": "",
	"limits.max_mail_size":      25 << 20,
	"limits.max_subject_length": 998,
	"limits.max_content_length": 10 << 20,
	"limits.max_header_length":  998,
	"smtp.addr":                 "",
	"smtp.username":             "",
	"smtp.password":             "",
	"smtp.security":             "starttls",
	"keyring.service_name":      "jmap-compose",
	"keyring.file_dir":          "",
	"keyring.file_password":     "",
}

// Load reads path, if not empty, and overlays the environment. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.SpaceTableName == "" {
		return errors.New("config: space_table_name is required")
	}
	switch c.AttachmentBackend {
	case BackendDB:
		if c.AttachmentDBPath == "" {
			return errors.New("config: attachment_db_path is required for the db backend")
		}
	case BackendBlob:
		if c.BlobURL == "" || c.AttachmentTableName == "" {
			return errors.New("config: blob_url and attachment_table_name are required for the blob backend")
		}
	default:
		return fmt.Errorf("config: unknown attachment_backend %q", c.AttachmentBackend)
	}
	if c.MaxSpaces <= 0 {
		return fmt.Errorf("config: max_spaces must be positive, got %d", c.MaxSpaces)
	}
	seen := make(map[int]bool, len(c.MailAccounts))
	for _, a := range c.MailAccounts {
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate mail account %d", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
