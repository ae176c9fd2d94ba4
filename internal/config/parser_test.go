package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
engine: mysql
remote:
  host: db.example.lan
  key_path: /keys/id_ed25519
backup:
  dir: /srv/backups
`

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadReader(minimalYAML)

	require.NoError(t, err)
	assert.Equal(t, models.EngineMySQL, cfg.Engine)
	assert.Equal(t, "db.example.lan", cfg.Connection.SSHHost)
	assert.Equal(t, "/keys/id_ed25519", cfg.Connection.KeyPath)
	assert.Equal(t, "/srv/backups", cfg.Layout.BaseDir)
	// Check defaults
	assert.Equal(t, DefaultSSHPort, cfg.Connection.SSHPort)
	assert.Equal(t, DefaultSSHUser, cfg.Connection.SSHUser)
	assert.Equal(t, DefaultSSHTimeout, cfg.Connection.Timeout)
	assert.Equal(t, DefaultDBHost, cfg.Connection.DBHost)
	assert.Equal(t, models.RetentionPolicy{BaseDir: "/srv/backups", Days: DefaultRetentionDays}, cfg.Retention)
	assert.False(t, cfg.Compression.Enabled())
	assert.False(t, cfg.Layout.TimeSubdir)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.Telegram)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
engine: postgresql
remote:
  host: 192.168.1.20
  port: 2222
  user: backup
  key_path: /keys/id_ed25519
  known_hosts: /keys/known_hosts
  timeout: 45s
database:
  host: 10.0.0.5
  user: dumper
  password: dbpass
  name: app
  ignore_system_schemas: true
  max_packet_size: 512M
backup:
  dir: /srv/backups
  time_subdir: true
retention:
  days: 14
compression:
  xz: true
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
  broadcast_ip: "192.168.1.255"
  timeout: 10m
  poll_interval: 5s
  stabilize_wait: 15s
telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, models.EnginePostgres, cfg.Engine)
	assert.Equal(t, models.ConnectionProfile{
		SSHHost:        "192.168.1.20",
		SSHPort:        2222,
		SSHUser:        "backup",
		KeyPath:        "/keys/id_ed25519",
		KnownHostsPath: "/keys/known_hosts",
		Timeout:        45 * time.Second,
		DBHost:         "10.0.0.5",
		DBUser:         "dumper",
		DBPassword:     "dbpass",
	}, cfg.Connection)
	assert.Equal(t, models.DumpOptions{
		Database:            "app",
		IgnoreSystemSchemas: true,
		MaxPacketSize:       "512M",
	}, cfg.Dump)
	assert.True(t, cfg.Layout.TimeSubdir)
	assert.Equal(t, 14, cfg.Retention.Days)
	assert.Equal(t, models.AlgorithmXZ, cfg.Compression.Algorithm())

	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.WOL.MACAddress)
	assert.Equal(t, "192.168.1.20:2222", cfg.WOL.PollAddress)
	assert.Equal(t, 10*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.WOL.StabilizeWait)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123", cfg.Telegram.ChatID)
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "from-env")
	t.Setenv("TEST_BOT_TOKEN", "token-from-env")

	yaml := minimalYAML + `
database:
  user: dumper
  password: ${TEST_DB_PASSWORD}
telegram:
  bot_token: ${TEST_BOT_TOKEN}
  chat_id: "1"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Connection.DBPassword)
	assert.Equal(t, "token-from-env", cfg.Telegram.BotToken)
}

func TestParser_LoadReader_HomeDirectoryExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	yaml := `
engine: mongodb
remote:
  host: db
  key_path: ~/.ssh/id_ed25519
backup:
  dir: /srv/backups
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), cfg.Connection.KeyPath)
}

func TestParser_LoadReader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{
			name:    "missing engine",
			yaml:    "remote:\n  host: db\n  key_path: /k\nbackup:\n  dir: /b\n",
			message: "engine is required",
		},
		{
			name:    "unknown engine",
			yaml:    "engine: oracle\nremote:\n  host: db\n  key_path: /k\nbackup:\n  dir: /b\n",
			message: "unknown engine",
		},
		{
			name:    "missing host",
			yaml:    "engine: mysql\nremote:\n  key_path: /k\nbackup:\n  dir: /b\n",
			message: "remote.host is required",
		},
		{
			name:    "missing identity file",
			yaml:    "engine: mysql\nremote:\n  host: db\nbackup:\n  dir: /b\n",
			message: "remote.key_path is required",
		},
		{
			name:    "missing backup dir",
			yaml:    "engine: mysql\nremote:\n  host: db\n  key_path: /k\n",
			message: "backup.dir is required",
		},
		{
			name:    "non-numeric retention",
			yaml:    minimalYAML + "retention:\n  days: seven\n",
			message: "retention.days must be a whole number",
		},
		{
			name:    "negative retention",
			yaml:    minimalYAML + "retention:\n  days: -1\n",
			message: "retention.days must not be negative",
		},
		{
			name:    "both compression algorithms",
			yaml:    minimalYAML + "compression:\n  bzip2: true\n  xz: true\n",
			message: "mutually exclusive",
		},
		{
			name:    "single database and combined",
			yaml:    minimalYAML + "database:\n  name: app\n  combined: true\n",
			message: "mutually exclusive",
		},
		{
			name:    "wol without mac",
			yaml:    minimalYAML + "wol:\n  broadcast_ip: 192.168.1.255\n",
			message: "wol.mac_address is required",
		},
		{
			name:    "telegram without token",
			yaml:    minimalYAML + "telegram:\n  chat_id: \"1\"\n",
			message: "telegram.bot_token is required",
		},
		{
			name:    "telegram without chat",
			yaml:    minimalYAML + "telegram:\n  bot_token: abc\n",
			message: "telegram.chat_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser()
			_, err := parser.LoadReader(tt.yaml)

			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParser_LoadReader_RetentionDaysAsString(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadReader(minimalYAML + "retention:\n  days: \"0\"\n")

	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retention.Days)
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadReader(minimalYAML + "wol:\n  mac_address: \"AA:BB:CC:DD:EE:FF\"\n")

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, "db.example.lan:22", cfg.WOL.PollAddress)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WOL.StabilizeWait)
}

func TestParser_BindFlags_OverrideFile(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"--database", "shop",
		"--retention-days", "3",
		"--bzip2",
		"--time-subdir",
		"--ignore-system-schemas",
	}))

	parser := NewParser()
	require.NoError(t, parser.BindFlags(flags))
	cfg, err := parser.LoadReader(minimalYAML + "retention:\n  days: 30\n")

	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Dump.Database)
	assert.Equal(t, 3, cfg.Retention.Days)
	assert.Equal(t, models.AlgorithmBzip2, cfg.Compression.Algorithm())
	assert.True(t, cfg.Layout.TimeSubdir)
	assert.True(t, cfg.Dump.IgnoreSystemSchemas)
}

func TestParser_BindFlags_UnsetFlagsKeepFileValues(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(nil))

	parser := NewParser()
	require.NoError(t, parser.BindFlags(flags))
	cfg, err := parser.LoadReader(minimalYAML + "retention:\n  days: 9\ncompression:\n  xz: true\n")

	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retention.Days)
	assert.Equal(t, models.AlgorithmXZ, cfg.Compression.Algorithm())
}

func TestParser_BindFlags_ConflictingCompression(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--bzip2"}))

	parser := NewParser()
	require.NoError(t, parser.BindFlags(flags))
	_, err := parser.LoadReader(minimalYAML + "compression:\n  xz: true\n")

	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
}

func TestParser_BindFlags_NonNumericRetention(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--retention-days", "abc"}))

	parser := NewParser()
	require.NoError(t, parser.BindFlags(flags))
	_, err := parser.LoadReader(minimalYAML)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention.days must be a whole number")
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	parser := NewParser()
	cfg, err := parser.LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, models.EngineMySQL, cfg.Engine)
}

func TestParser_LoadFile_Missing(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
}

func TestValidate(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("key"), 0o600))

	valid := func() *models.BackupConfig {
		return &models.BackupConfig{
			Engine:     models.EngineMySQL,
			Connection: models.ConnectionProfile{SSHHost: "db", KeyPath: keyPath},
			Layout:     models.LayoutSettings{BaseDir: "/srv/backups"},
			Retention:  models.RetentionPolicy{BaseDir: "/srv/backups", Days: 7},
		}
	}

	tests := []struct {
		name    string
		cfg     func() *models.BackupConfig
		wantErr bool
	}{
		{"nil config", func() *models.BackupConfig { return nil }, true},
		{"valid config", valid, false},
		{"unknown engine", func() *models.BackupConfig {
			c := valid()
			c.Engine = "oracle"
			return c
		}, true},
		{"missing host", func() *models.BackupConfig {
			c := valid()
			c.Connection.SSHHost = ""
			return c
		}, true},
		{"identity file does not exist", func() *models.BackupConfig {
			c := valid()
			c.Connection.KeyPath = filepath.Join(t.TempDir(), "missing")
			return c
		}, true},
		{"inline key without path", func() *models.BackupConfig {
			c := valid()
			c.Connection.KeyPath = ""
			c.Connection.PrivateKey = []byte("key")
			return c
		}, false},
		{"missing backup dir", func() *models.BackupConfig {
			c := valid()
			c.Layout.BaseDir = ""
			return c
		}, true},
		{"both compressions", func() *models.BackupConfig {
			c := valid()
			c.Compression = models.Compression{Bzip2: true, XZ: true}
			return c
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
