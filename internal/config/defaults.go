package config

const (
	defaultDataDir              = "~/.local/share/animdb"
	defaultLogDir               = "~/.local/share/animdb/logs"
	defaultBind                 = "127.0.0.1:7480"
	defaultSchemaFamily         = "MiZu_Character_Profile"
	defaultJobLeaseSeconds      = 3600
	defaultSessionMaxAgeHours   = 72
	defaultDiscardRetentionDays = 14
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// Derived sub-directories of Paths.DataDir.
const (
	stagingSubdir       = "import_cache"
	archiveSubdir       = "archive"
	inspectedSubdir     = "valid/inspected"
	errorSubdir         = "valid/errors"
	reviewSubdir        = "manual_merge"
	discardSubdir       = "discard"
	storeSubdir         = "maindb"
	registerCacheSubdir = "maindb/register_cache"
	stateSubdir         = "state"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind: defaultBind,
		},
		Schema: Schema{
			Family: defaultSchemaFamily,
		},
		Jobs: Jobs{
			LeaseSeconds: defaultJobLeaseSeconds,
		},
		Staging: Staging{
			SessionMaxAgeHours:   defaultSessionMaxAgeHours,
			DiscardRetentionDays: defaultDiscardRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
