package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment variable, e.g. ZIPMAILER_SMTP_HOST.
	EnvPrefix = "ZIPMAILER"

	DefaultSubject = "Hall Tickets - {{.Location}}{{if gt .PartTotal 1}} (Part {{.Part}}){{end}}"
	DefaultBody    = "Dear Coordinator,\n\nPlease find attached the hall tickets for {{.Location}}.\n\n{{.Footer}}"
)

// Config holds application settings
type Config struct {
	WorkspaceDir string `mapstructure:"workspace_dir" validate:"required"`

	Log      LogConfig      `mapstructure:"log"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Matching MatchingConfig `mapstructure:"matching"`
	Sheet    SheetConfig    `mapstructure:"sheet"`
	Packing  PackingConfig  `mapstructure:"packing"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Mail     MailConfig     `mapstructure:"mail"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Cancel   CancelConfig   `mapstructure:"cancel"`
	Reports  ReportsConfig  `mapstructure:"reports"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output"`
}

type LedgerConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=duckdb sqlite3"`
	Path   string `mapstructure:"path" validate:"required"`
}

// ArchiveConfig controls extraction.
type ArchiveConfig struct {
	ContainerExt string `mapstructure:"container_ext" validate:"required,startswith=."`
	PayloadExt   string `mapstructure:"payload_ext" validate:"required,startswith=."`
	MaxDepth     int    `mapstructure:"max_depth" validate:"min=0"`
}

type MatchingConfig struct {
	Fuzzy       bool `mapstructure:"fuzzy"`
	MinFuzzyLen int  `mapstructure:"min_fuzzy_len" validate:"min=1"`
}

// SheetConfig overrides column detection. Empty names are detected from the headers.
type SheetConfig struct {
	KeyColumn         string `mapstructure:"key_column"`
	RecipientsColumn  string `mapstructure:"recipients_column"`
	DestinationColumn string `mapstructure:"destination_column"`
	Name              string `mapstructure:"name"`
}

type PackingConfig struct {
	CeilingMB      float64 `mapstructure:"ceiling_mb" validate:"gt=0"`
	Compression    string  `mapstructure:"compression" validate:"oneof=deflate store"`
	MeasureArchive bool    `mapstructure:"measure_archive"`
}

// CeilingBytes converts CeilingMB to bytes.
func (p PackingConfig) CeilingBytes() int64 { return int64(p.CeilingMB * (1 << 20)) }

type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port" validate:"min=1,max=65535"`
	SSL      bool          `mapstructure:"ssl"`
	StartTLS bool          `mapstructure:"starttls"`
	Sender   string        `mapstructure:"sender" validate:"omitempty,email"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MailConfig struct {
	Subject string `mapstructure:"subject" validate:"required"`
	Body    string `mapstructure:"body"`
	HTML    string `mapstructure:"html"`
	Footer  string `mapstructure:"footer"`
	FanOut  bool   `mapstructure:"fan_out"`
}

type DispatchConfig struct {
	Delay              time.Duration `mapstructure:"delay" validate:"min=0"`
	ReconnectEvery     int           `mapstructure:"reconnect_every" validate:"min=0"`
	TestMode           bool          `mapstructure:"test_mode"`
	TestAddress        string        `mapstructure:"test_address" validate:"omitempty,email"`
	StopGroupOnFailure bool          `mapstructure:"stop_group_on_failure"`
}

// CancelConfig enables the Redis stop flag when RedisAddr is set.
type CancelConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"min=0"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ReportsConfig struct {
	Formats    []string `mapstructure:"formats" validate:"dive,oneof=csv pdf parquet"`
	PageCounts bool     `mapstructure:"page_counts"`
}

// FlagBindings maps persistent flag names to config keys.
var FlagBindings = map[string]string{
	"workspace-dir": "workspace_dir",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-output":    "log.output",
	"ledger-driver": "ledger.driver",
	"ledger-path":   "ledger.path",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace_dir", "./zipmailer_workspace")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("ledger.driver", "duckdb")
	v.SetDefault("ledger.path", "./zipmailer_ledger.duckdb")

	v.SetDefault("archive.container_ext", ".zip")
	v.SetDefault("archive.payload_ext", ".pdf")
	v.SetDefault("archive.max_depth", 0)

	v.SetDefault("matching.fuzzy", false)
	v.SetDefault("matching.min_fuzzy_len", 4)

	v.SetDefault("sheet.key_column", "")
	v.SetDefault("sheet.recipients_column", "")
	v.SetDefault("sheet.destination_column", "")
	v.SetDefault("sheet.name", "")

	v.SetDefault("packing.ceiling_mb", 3.0)
	v.SetDefault("packing.compression", "deflate")
	v.SetDefault("packing.measure_archive", false)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.ssl", false)
	v.SetDefault("smtp.starttls", true)
	v.SetDefault("smtp.sender", "")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.timeout", 30*time.Second)

	v.SetDefault("mail.subject", DefaultSubject)
	v.SetDefault("mail.body", DefaultBody)
	v.SetDefault("mail.html", "")
	v.SetDefault("mail.footer", "Regards,\nExamination Cell")
	v.SetDefault("mail.fan_out", true)

	v.SetDefault("dispatch.delay", 2*time.Second)
	v.SetDefault("dispatch.reconnect_every", 100)
	v.SetDefault("dispatch.test_mode", true)
	v.SetDefault("dispatch.test_address", "")
	v.SetDefault("dispatch.stop_group_on_failure", false)

	v.SetDefault("cancel.redis_addr", "")
	v.SetDefault("cancel.redis_password", "")
	v.SetDefault("cancel.redis_db", 0)
	v.SetDefault("cancel.ttl", 24*time.Hour)

	v.SetDefault("reports.formats", []string{"csv"})
	v.SetDefault("reports.page_counts", false)
}

// Load layers defaults, the optional YAML file at path, .env, ZIPMAILER_*
// environment variables and any changed flags, then validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if flags != nil {
		for name, key := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Reports.Formats = splitAndTrim(cfg.Reports.Formats)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateForSend checks what a live send needs beyond Validate.
func (c *Config) ValidateForSend() error {
	var errs error
	if c.SMTP.Host == "" {
		errs = errors.Join(errs, errors.New("smtp.host is required"))
	}
	if c.SMTP.Sender == "" {
		errs = errors.Join(errs, errors.New("smtp.sender is required"))
	}
	if c.Dispatch.TestMode && c.Dispatch.TestAddress == "" {
		errs = errors.Join(errs, errors.New("dispatch.test_address is required in test mode"))
	}
	if c.Mail.Body == "" && c.Mail.HTML == "" {
		errs = errors.Join(errs, errors.New("mail.body or mail.html is required"))
	}
	return errs
}

// splitAndTrim flattens comma separated entries, which is how list values
// arrive from the environment.
func splitAndTrim(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
