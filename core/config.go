package core

import (
	"fmt"
	"strings"
)

// SupportedDBTypes lists the database types the engine can sit in front of.
var SupportedDBTypes = []string{"sqlite", "mysql", "postgres"}

// RowDecoder converts a generic row object into the table's typed row. The
// decoded value is what subscribers and fetch responses see as `data`.
type RowDecoder func(row map[string]interface{}) (interface{}, error)

// Table registers one database table with the engine: its name and the
// decoder used to type its rows. A nil decoder passes rows through as
// generic objects.
type Table struct {
	Name   string
	Decode RowDecoder
}

// Config holds the engine configuration.
type Config struct {
	// Database type: sqlite, mysql or postgres
	DBType string `mapstructure:"db_type" json:"db_type" yaml:"db_type"`

	// Tables the engine serves. Queries and operations against a table
	// not listed here fail with ErrUnknownTable.
	Tables []Table `mapstructure:"-" json:"-" yaml:"-"`

	// Size of the compiled statement cache
	QueryCacheSize int `mapstructure:"query_cache_size" json:"query_cache_size" yaml:"query_cache_size"`
}

// ValidateDBType checks if the given database type is supported
func ValidateDBType(dbType string) error {
	if dbType == "" {
		return nil // Empty defaults to postgres, which is valid
	}
	for _, t := range SupportedDBTypes {
		if strings.EqualFold(dbType, t) {
			return nil
		}
	}
	return fmt.Errorf("unsupported database type %q: supported types are %s",
		dbType, strings.Join(SupportedDBTypes, ", "))
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := ValidateDBType(c.DBType); err != nil {
		return err
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables configured")
	}
	seen := make(map[string]struct{}, len(c.Tables))
	for _, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("table %q configured twice", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}
