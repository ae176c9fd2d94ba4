// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults applied when the configuration leaves a value out.
const (
	DefaultSSHPort       = 22
	DefaultSSHUser       = "root"
	DefaultSSHTimeout    = 30 * time.Second
	DefaultDBHost        = "localhost"
	DefaultRetentionDays = 30
)

// flagKeys maps command-line flags of the run command to configuration keys.
var flagKeys = map[string]string{
	"database":              "database.name",
	"combined":              "database.combined",
	"ignore-system-schemas": "database.ignore_system_schemas",
	"time-subdir":           "backup.time_subdir",
	"retention-days":        "retention.days",
	"bzip2":                 "compression.bzip2",
	"xz":                    "compression.xz",
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// RegisterFlags adds the flags that override configuration values to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("database", "", "dump only this database")
	flags.Bool("combined", false, "dump all databases into a single artifact")
	flags.Bool("ignore-system-schemas", false, "skip the engine's optional system databases")
	flags.Bool("time-subdir", false, "add an HH:MM subdirectory below the date directory")
	flags.String("retention-days", "", "remove dated directories older than this many days")
	flags.Bool("bzip2", false, "compress artifacts with bzip2")
	flags.Bool("xz", false, "compress artifacts with xz")
}

// BindFlags makes explicitly set flags take precedence over the configuration file.
func (p *Parser) BindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := p.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}
	return nil
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, models.NewConfigurationError("reading config file", err)
	}

	return p.load()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, models.NewConfigurationError("reading config", err)
	}

	return p.load()
}

func (p *Parser) load() (*models.BackupConfig, error) {
	cfg, err := p.parse()
	if err != nil {
		return nil, models.NewConfigurationError("invalid configuration", err)
	}
	return cfg, nil
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	engineName := p.v.GetString("engine")
	if engineName == "" {
		return nil, fmt.Errorf("engine is required")
	}
	engine, err := models.ParseEngine(engineName)
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine

	// Parse remote connection (required).
	cfg.Connection = models.ConnectionProfile{
		SSHHost:        p.v.GetString("remote.host"),
		SSHPort:        p.v.GetInt("remote.port"),
		SSHUser:        p.v.GetString("remote.user"),
		KeyPath:        expandPath(p.expandEnv(p.v.GetString("remote.key_path"))),
		KnownHostsPath: expandPath(p.expandEnv(p.v.GetString("remote.known_hosts"))),
		Timeout:        p.v.GetDuration("remote.timeout"),
		DBHost:         p.v.GetString("database.host"),
		DBUser:         p.expandEnv(p.v.GetString("database.user")),
		DBPassword:     p.expandEnv(p.v.GetString("database.password")),
	}

	if cfg.Connection.SSHHost == "" {
		return nil, fmt.Errorf("remote.host is required")
	}
	if cfg.Connection.KeyPath == "" {
		return nil, fmt.Errorf("remote.key_path is required")
	}
	if cfg.Connection.SSHPort == 0 {
		cfg.Connection.SSHPort = DefaultSSHPort
	}
	if cfg.Connection.SSHPort < 0 || cfg.Connection.SSHPort > 65535 {
		return nil, fmt.Errorf("remote.port must be between 1 and 65535")
	}
	if cfg.Connection.SSHUser == "" {
		cfg.Connection.SSHUser = DefaultSSHUser
	}
	if cfg.Connection.Timeout == 0 {
		cfg.Connection.Timeout = DefaultSSHTimeout
	}
	if cfg.Connection.DBHost == "" {
		cfg.Connection.DBHost = DefaultDBHost
	}

	// Parse dump selection.
	cfg.Dump = models.DumpOptions{
		Database:            p.v.GetString("database.name"),
		Combined:            p.v.GetBool("database.combined"),
		IgnoreSystemSchemas: p.v.GetBool("database.ignore_system_schemas"),
		MaxPacketSize:       p.v.GetString("database.max_packet_size"),
	}

	if cfg.Dump.Database != "" && cfg.Dump.Combined {
		return nil, fmt.Errorf("database.name and database.combined are mutually exclusive")
	}

	// Parse output layout (required).
	cfg.Layout = models.LayoutSettings{
		BaseDir:    expandPath(p.expandEnv(p.v.GetString("backup.dir"))),
		TimeSubdir: p.v.GetBool("backup.time_subdir"),
	}

	if cfg.Layout.BaseDir == "" {
		return nil, fmt.Errorf("backup.dir is required")
	}

	// Parse retention policy.
	days, err := p.retentionDays()
	if err != nil {
		return nil, err
	}
	cfg.Retention = models.RetentionPolicy{
		BaseDir: cfg.Layout.BaseDir,
		Days:    days,
	}

	// Parse compression.
	cfg.Compression = models.Compression{
		Bzip2: p.v.GetBool("compression.bzip2"),
		XZ:    p.v.GetBool("compression.xz"),
	}

	if cfg.Compression.Bzip2 && cfg.Compression.XZ {
		return nil, fmt.Errorf("compression.bzip2 and compression.xz are mutually exclusive")
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollAddress:   p.v.GetString("wol.poll_address"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.PollAddress == "" {
			cfg.WOL.PollAddress = net.JoinHostPort(cfg.Connection.SSHHost, strconv.Itoa(cfg.Connection.SSHPort))
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// retentionDays parses retention.days strictly: "7" and 7 are accepted, "seven" is not.
func (p *Parser) retentionDays() (int, error) {
	raw := p.v.Get("retention.days")
	if raw == nil {
		return DefaultRetentionDays, nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return DefaultRetentionDays, nil
		}
		raw = s
	}

	days, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("retention.days must be a whole number of days, got %v", raw)
	}
	if days < 0 {
		return 0, fmt.Errorf("retention.days must not be negative, got %d", days)
	}
	return days, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath resolves a leading "~/" to the current user's home directory.
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return models.NewConfigurationError("configuration is nil", nil)
	}

	if _, err := models.ParseEngine(cfg.Engine.String()); err != nil {
		return models.NewConfigurationError("invalid engine", err)
	}

	if cfg.Connection.SSHHost == "" {
		return models.NewConfigurationError("remote.host is required", nil)
	}

	if len(cfg.Connection.PrivateKey) == 0 {
		if cfg.Connection.KeyPath == "" {
			return models.NewConfigurationError("remote.key_path is required", nil)
		}
		if _, err := os.Stat(cfg.Connection.KeyPath); err != nil {
			return models.NewConfigurationError("identity file is not readable", err)
		}
	}

	if cfg.Layout.BaseDir == "" {
		return models.NewConfigurationError("backup.dir is required", nil)
	}

	if cfg.Retention.Days < 0 {
		return models.NewConfigurationError("retention.days must not be negative", nil)
	}

	if cfg.Compression.Bzip2 && cfg.Compression.XZ {
		return models.NewConfigurationError("only one of bzip2 and xz compression may be selected", nil)
	}

	return nil
}
