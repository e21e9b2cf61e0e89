package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"       validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"     validate:"required"`
	Claim        ClaimConfig        `mapstructure:"claim"        validate:"required"`
	Pool         PoolConfig         `mapstructure:"pool"         validate:"required"`
	Retry        RetryConfig        `mapstructure:"retry"        validate:"required"`
	Sweep        SweepConfig        `mapstructure:"sweep"        validate:"required"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"     validate:"required"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// Driver "memory" keeps tasks in process, optionally snapshotted to SnapshotPath.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url"               validate:"required_if=Driver postgres"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	SnapshotPath    string        `mapstructure:"snapshot_path"`
}

// ClaimConfig controls lock staleness recovery performed before every claim.
type ClaimConfig struct {
	LockStaleAfter    time.Duration `mapstructure:"lock_stale_after"    validate:"gt=0"`
	RunningStuckAfter time.Duration `mapstructure:"running_stuck_after" validate:"gt=0"`
	MaxRetryAge       time.Duration `mapstructure:"max_retry_age"       validate:"gt=0"`
	// HeartbeatInterval must stay well below RunningStuckAfter so that
	// long-running executions are not mistaken for dead workers.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0,ltfield=RunningStuckAfter"`
}

// TenantCapConfig overrides the per-tenant worker ceilings for one tenant.
// Zero means use the global default for that queue class.
type TenantCapConfig struct {
	Foreground int `mapstructure:"foreground" validate:"gte=0"`
	Background int `mapstructure:"background" validate:"gte=0"`
}

// PoolConfig contains worker pool capacity and lifecycle settings.
type PoolConfig struct {
	InstanceCap int `mapstructure:"instance_cap" validate:"required,gt=0"`
	// BackgroundInstanceCap bounds background workers separately; zero means
	// background work may use the whole instance cap.
	BackgroundInstanceCap int                        `mapstructure:"background_instance_cap" validate:"gte=0,ltefield=InstanceCap"`
	TenantForegroundCap   int                        `mapstructure:"tenant_foreground_cap"   validate:"required,gt=0"`
	TenantBackgroundCap   int                        `mapstructure:"tenant_background_cap"   validate:"required,gt=0"`
	TenantOverrides       map[string]TenantCapConfig `mapstructure:"tenant_overrides"        validate:"dive"`
	IdleTimeout           time.Duration              `mapstructure:"idle_timeout"            validate:"gt=0"`
	DispatchInterval      time.Duration              `mapstructure:"dispatch_interval"       validate:"gt=0"`
	ShutdownTimeout       time.Duration              `mapstructure:"shutdown_timeout"        validate:"gt=0"`
}

// RetryConfig contains the failure policy defaults.
type RetryConfig struct {
	DefaultMaxAttempts int `mapstructure:"default_max_attempts" validate:"required,gte=1,lte=10"`
}

// SweepConfig contains the health sweep and retention settings.
type SweepConfig struct {
	Interval            time.Duration `mapstructure:"interval"             validate:"gt=0"`
	StaleAfter          time.Duration `mapstructure:"stale_after"          validate:"gt=0"`
	AncientAfter        time.Duration `mapstructure:"ancient_after"        validate:"gtfield=StaleAfter"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout" validate:"gt=0"`
	RetentionHorizon    time.Duration `mapstructure:"retention_horizon"    validate:"gt=0"`
	RetentionInterval   time.Duration `mapstructure:"retention_interval"   validate:"gt=0"`
}

// ScheduleConfig contains the recurring-job evaluator settings.
type ScheduleConfig struct {
	Interval        time.Duration `mapstructure:"interval"         validate:"gt=0"`
	FailureCap      int           `mapstructure:"failure_cap"      validate:"required,gt=0"`
	DefinitionsFile string        `mapstructure:"definitions_file"`
}

// ConfirmationConfig contains the human-confirmation detection settings.
// An empty pattern list selects the built-in patterns.
type ConfirmationConfig struct {
	Patterns []string `mapstructure:"patterns"`
	// RepliesSupported reports whether the delivery channel can route requester
	// replies back to the server. Without it no confirmation is ever requested.
	RepliesSupported bool `mapstructure:"replies_supported"`
}
