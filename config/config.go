// Package config loads endpointd's YAML configuration with environment
// variable overrides, the way the teacher project's config package loads
// its own settings with viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/obs-archive/endpointd/internal/catalog"
)

// FinderConfig configures one Finder instance.
type FinderConfig struct {
	Source             string
	Storage            string
	ActionStandard     string // one of "noop", "move", "delete"
	ActionAlternative  string // same set, applied on duplicate detection
	SearchMethod       string // "scan" or "parse_rsync_logs"
	SearchExcludeList  []string
	SearchDate         string
	SearchPastDays     int
	SearchFutureDays   int
	SearchDelaySeconds int
	ChecksumMethod     string
	PauseSeconds       int
}

// IngesterConfig configures one Ingester instance.
type IngesterConfig struct {
	Storage      string
	PluginName   string
	IncludeList  []string
	ExcludeList  []string
	FileStatus   string
	BatchSize    int
	NumThreads   int
	PauseSeconds int
	Daemon       bool
}

// DatabaseConfig configures the Postgres connection and catalog table
// names.
type DatabaseConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	DBName           string
	SSLMode          string
	FileTableSchema  string
	FileTableName    string
	EventTableSchema string
	EventTableName   string
}

// DSN builds the connection string database/sql and lib/pq expect.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// TableNames translates the configured names into a catalog.TableNames,
// falling back to the conventional unqualified names when unset.
func (d DatabaseConfig) TableNames() catalog.TableNames {
	names := catalog.DefaultTableNames()
	if d.FileTableName != "" {
		names.File = catalog.TableName{Schema: d.FileTableSchema, Table: d.FileTableName}
	}
	if d.EventTableName != "" {
		names.Event = catalog.TableName{Schema: d.EventTableSchema, Table: d.EventTableName}
	}
	return names
}

// Config is the full configuration surface described in spec.md §6.
type Config struct {
	Finder   FinderConfig
	Ingester IngesterConfig
	Database DatabaseConfig
}

// Load reads path (a YAML file) and layers environment variable overrides
// on top, using ENDPOINTD_ prefixed, underscore-separated keys (e.g.
// ENDPOINTD_DATABASE_HOST). It returns an error rather than exiting, so
// callers control the process's exit code per spec.md §6.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	v.SetEnvPrefix("ENDPOINTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		Finder: FinderConfig{
			Source:             v.GetString("finder.source"),
			Storage:            v.GetString("finder.storage"),
			ActionStandard:     v.GetString("finder.actions.standard"),
			ActionAlternative:  v.GetString("finder.actions.alternative"),
			SearchMethod:       v.GetString("finder.search.method"),
			SearchExcludeList:  v.GetStringSlice("finder.search.exclude_list"),
			SearchDate:         v.GetString("finder.search.date"),
			SearchPastDays:     v.GetInt("finder.search.past_days"),
			SearchFutureDays:   v.GetInt("finder.search.future_days"),
			SearchDelaySeconds: v.GetInt("finder.search.delay"),
			ChecksumMethod:     v.GetString("finder.checksum_method"),
			PauseSeconds:       v.GetInt("finder.pause"),
		},
		Ingester: IngesterConfig{
			Storage:      v.GetString("ingester.storage"),
			PluginName:   v.GetString("ingester.plugin.name"),
			IncludeList:  v.GetStringSlice("ingester.include_list"),
			ExcludeList:  v.GetStringSlice("ingester.exclude_list"),
			FileStatus:   v.GetString("ingester.file_status"),
			BatchSize:    v.GetInt("ingester.batch_size"),
			NumThreads:   v.GetInt("ingester.num_threads"),
			PauseSeconds: v.GetInt("ingester.pause"),
			Daemon:       v.GetBool("ingester.daemon"),
		},
		Database: DatabaseConfig{
			Host:             v.GetString("database.host"),
			Port:             v.GetInt("database.port"),
			User:             v.GetString("database.user"),
			Password:         v.GetString("database.password"),
			DBName:           v.GetString("database.dbname"),
			SSLMode:          v.GetString("database.sslmode"),
			FileTableSchema:  v.GetString("database.tablenames.file.schema"),
			FileTableName:    v.GetString("database.tablenames.file.table"),
			EventTableSchema: v.GetString("database.tablenames.event.schema"),
			EventTableName:   v.GetString("database.tablenames.event.table"),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("finder.actions.standard", "move")
	v.SetDefault("finder.actions.alternative", "delete")
	v.SetDefault("finder.search.method", "scan")
	v.SetDefault("finder.search.past_days", 1)
	v.SetDefault("finder.search.future_days", 1)
	v.SetDefault("finder.search.delay", 60)
	v.SetDefault("finder.checksum_method", "blake2b")
	v.SetDefault("finder.pause", 1)

	v.SetDefault("ingester.plugin.name", "null")
	v.SetDefault("ingester.file_status", "UNTRIED")
	v.SetDefault("ingester.batch_size", 10)
	v.SetDefault("ingester.num_threads", 1)
	v.SetDefault("ingester.pause", 1)
	v.SetDefault("ingester.daemon", true)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Finder.Source == "" {
		missing = append(missing, "finder.source")
	}
	if cfg.Finder.Storage == "" {
		missing = append(missing, "finder.storage")
	}
	if cfg.Ingester.Storage == "" {
		missing = append(missing, "ingester.storage")
	}
	if cfg.Database.Host == "" {
		missing = append(missing, "database.host")
	}
	if cfg.Database.DBName == "" {
		missing = append(missing, "database.dbname")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}

	if strings.EqualFold(cfg.Ingester.FileStatus, string(catalog.StatusSuccess)) {
		return fmt.Errorf("config: ingester.file_status cannot be %s", catalog.StatusSuccess)
	}

	validActions := map[string]bool{"noop": true, "move": true, "delete": true}
	for _, name := range []string{cfg.Finder.ActionStandard, cfg.Finder.ActionAlternative} {
		if !validActions[strings.ToLower(name)] {
			return fmt.Errorf("config: unknown action: %q", name)
		}
	}
	validPlugins := map[string]bool{"null": true}
	if !validPlugins[strings.ToLower(cfg.Ingester.PluginName)] {
		return fmt.Errorf("config: unknown plugin: %q", cfg.Ingester.PluginName)
	}
	if cfg.Finder.SearchMethod != "scan" && cfg.Finder.SearchMethod != "parse_rsync_logs" {
		return fmt.Errorf("config: unknown search method: %q", cfg.Finder.SearchMethod)
	}
	return nil
}
