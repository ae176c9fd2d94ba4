package models

import (
	"fmt"
	"strings"
)

// Engine identifies the database engine whose remote dump tools are driven.
type Engine string

// Supported engines.
const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
	EngineMongoDB  Engine = "mongodb"
)

// ParseEngine converts a configuration value into an Engine.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return EngineMySQL, nil
	case "postgres", "postgresql", "pgsql":
		return EnginePostgres, nil
	case "mongodb", "mongo":
		return EngineMongoDB, nil
	default:
		return "", fmt.Errorf("unknown engine %q (must be one of: mysql, postgres, mongodb)", s)
	}
}

func (e Engine) String() string {
	return string(e)
}

// Extension returns the artifact file extension for a dump produced by this engine.
// PostgreSQL dumps use the "dump" extension whenever compression is requested.
func (e Engine) Extension(compressionRequested bool) string {
	switch e {
	case EngineMySQL:
		return "sql"
	case EnginePostgres:
		if compressionRequested {
			return "dump"
		}
		return "sql"
	case EngineMongoDB:
		return "archive"
	default:
		return "sql"
	}
}

// SupportsCredentialFile reports whether credentials can be passed through a remote file.
func (e Engine) SupportsCredentialFile() bool {
	switch e {
	case EngineMySQL, EnginePostgres:
		return true
	case EngineMongoDB:
		return false
	default:
		return false
	}
}
