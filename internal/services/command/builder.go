// Package command builds the remote commands run for each engine.
package command

import (
	"fmt"

	"github.com/fgeck/goremote-dump/internal/models"
)

// Remote tool names.
const (
	mysqldump  = "mysqldump"
	mysqlCLI   = "mysql"
	pgDump     = "pg_dump"
	pgDumpAll  = "pg_dumpall"
	psql       = "psql"
	mongodump  = "mongodump"
	mongoShell = "mongosh"
)

// PostgreSQL reads its password file from this variable.
const pgPassFileEnv = "PGPASSFILE"

// Builder defines the interface for building remote commands.
type Builder interface {
	Dump(target models.DatabaseTarget, outputPath string) (models.RemoteCommand, error)
	ListDatabases() (models.RemoteCommand, error)
	RemoveFile(name string) models.RemoteCommand
}

// Impl builds commands from an immutable configuration. It never executes anything.
type Impl struct {
	engine      models.Engine
	conn        models.ConnectionProfile
	opts        models.DumpOptions
	compression bool
	credFile    string
}

// New creates a builder. credFile is the remote name of the credential bundle, or empty.
func New(cfg models.BackupConfig, credFile string) *Impl {
	return &Impl{
		engine:      cfg.Engine,
		conn:        cfg.Connection,
		opts:        cfg.Dump,
		compression: cfg.Compression.Enabled(),
		credFile:    credFile,
	}
}

// Dump returns the command producing the artifact for target.
func (b *Impl) Dump(target models.DatabaseTarget, outputPath string) (models.RemoteCommand, error) {
	var cmd models.RemoteCommand
	var err error

	switch b.engine {
	case models.EngineMySQL:
		cmd, err = b.mysqlDump(target)
	case models.EnginePostgres:
		cmd, err = b.postgresDump(target)
	case models.EngineMongoDB:
		cmd, err = b.mongoDump(target)
	default:
		err = fmt.Errorf("unsupported engine %q", b.engine)
	}
	if err != nil {
		return models.RemoteCommand{}, err
	}

	cmd.Engine = b.engine
	cmd.OutputPath = outputPath
	return cmd, nil
}

func (b *Impl) mysqlDump(target models.DatabaseTarget) (models.RemoteCommand, error) {
	// --defaults-extra-file must be the first option.
	args := b.mysqlAuthArgs()
	args = append(args, "--single-transaction", "--extended-insert")
	args = append(args, b.mysqlHostArgs()...)
	if b.opts.MaxPacketSize != "" {
		args = append(args, "--max-allowed-packet="+b.opts.MaxPacketSize)
	}

	switch target.Kind {
	case models.TargetCombined:
		args = append(args, "--all-databases")
	case models.TargetDatabase:
		args = append(args, target.Name)
	case models.TargetGlobals:
		return models.RemoteCommand{}, fmt.Errorf("globals dump is not supported for %s", b.engine)
	}

	return models.RemoteCommand{Program: mysqldump, Args: args}, nil
}

func (b *Impl) mysqlAuthArgs() []string {
	if b.credFile != "" {
		return []string{"--defaults-extra-file=" + b.credFile}
	}
	if b.conn.DBUser != "" {
		return []string{"-u", b.conn.DBUser}
	}
	return []string{}
}

func (b *Impl) mysqlHostArgs() []string {
	if b.conn.DBHost == "" {
		return nil
	}
	return []string{"-h", b.conn.DBHost}
}

func (b *Impl) postgresDump(target models.DatabaseTarget) (models.RemoteCommand, error) {
	cmd := models.RemoteCommand{Env: b.postgresEnv()}

	switch target.Kind {
	case models.TargetCombined:
		cmd.Program = pgDumpAll
		cmd.Args = b.postgresConnArgs()
	case models.TargetGlobals:
		cmd.Program = pgDumpAll
		cmd.Args = append(b.postgresConnArgs(), "--globals-only")
	case models.TargetDatabase:
		cmd.Program = pgDump
		cmd.Args = append(b.postgresConnArgs(), "--blobs", "--encoding=UTF8")
		if b.compression {
			cmd.Args = append(cmd.Args, "--format=custom")
		}
		cmd.Args = append(cmd.Args, target.Name)
	}

	return cmd, nil
}

func (b *Impl) postgresEnv() map[string]string {
	if b.credFile == "" {
		return nil
	}
	return map[string]string{pgPassFileEnv: b.credFile}
}

func (b *Impl) postgresConnArgs() []string {
	args := []string{}
	if b.conn.DBHost != "" {
		args = append(args, "-h", b.conn.DBHost)
	}
	if b.conn.DBUser != "" {
		args = append(args, "-U", b.conn.DBUser)
	}
	return args
}

func (b *Impl) mongoDump(target models.DatabaseTarget) (models.RemoteCommand, error) {
	args := []string{"--archive"}
	if b.conn.DBHost != "" {
		args = append(args, "--host", b.conn.DBHost)
	}

	switch target.Kind {
	case models.TargetCombined:
	case models.TargetDatabase:
		args = append(args, "--db", target.Name)
	case models.TargetGlobals:
		return models.RemoteCommand{}, fmt.Errorf("globals dump is not supported for %s", b.engine)
	}

	return models.RemoteCommand{Program: mongodump, Args: args}, nil
}

// ListDatabases returns a command printing one database name per line.
func (b *Impl) ListDatabases() (models.RemoteCommand, error) {
	cmd := models.RemoteCommand{Engine: b.engine}

	switch b.engine {
	case models.EngineMySQL:
		cmd.Program = mysqlCLI
		cmd.Args = append(b.mysqlAuthArgs(), b.mysqlHostArgs()...)
		cmd.Args = append(cmd.Args, "--batch", "--skip-column-names", "-e", "SHOW DATABASES")
	case models.EnginePostgres:
		cmd.Program = psql
		cmd.Env = b.postgresEnv()
		cmd.Args = append(b.postgresConnArgs(), "-d", "postgres", "-At", "-c",
			"SELECT datname FROM pg_database WHERE datistemplate = false")
	case models.EngineMongoDB:
		cmd.Program = mongoShell
		cmd.Args = []string{"--quiet"}
		if b.conn.DBHost != "" {
			cmd.Args = append(cmd.Args, "--host", b.conn.DBHost)
		}
		cmd.Args = append(cmd.Args, "--eval",
			"db.adminCommand({listDatabases: 1}).databases.forEach(function(d) { print(d.name) })")
	default:
		return models.RemoteCommand{}, fmt.Errorf("unsupported engine %q", b.engine)
	}

	return cmd, nil
}

// RemoveFile returns a command deleting a file from the remote login's home directory.
func (b *Impl) RemoveFile(name string) models.RemoteCommand {
	return models.RemoteCommand{Engine: b.engine, Program: "rm", Args: []string{"-f", name}}
}

// systemSchemas are never dumped individually.
var systemSchemas = map[models.Engine][]string{
	models.EngineMySQL: {"information_schema", "performance_schema"},
}

// optionalSystemSchemas are skipped when ignore_system_schemas is enabled.
var optionalSystemSchemas = map[models.Engine][]string{
	models.EngineMySQL:    {"mysql", "sys"},
	models.EnginePostgres: {"postgres"},
	models.EngineMongoDB:  {"admin", "config", "local"},
}

// IsSystemSchema reports whether name should be excluded from a per-database run.
func IsSystemSchema(engine models.Engine, name string, ignoreOptional bool) bool {
	for _, s := range systemSchemas[engine] {
		if s == name {
			return true
		}
	}
	if !ignoreOptional {
		return false
	}
	for _, s := range optionalSystemSchemas[engine] {
		if s == name {
			return true
		}
	}
	return false
}
