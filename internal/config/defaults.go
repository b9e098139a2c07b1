package config

const (
	defaultDataDir               = "~/.local/share/bemflow"
	defaultLogDir                = "~/.local/share/bemflow/logs"
	defaultWorkDir               = "~/.local/share/bemflow/work"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultMaxRunningJobs        = 2
	defaultLogCapacity           = 1024
	defaultLogBackpressure       = BackpressureDropOldest
	defaultLogBlockTimeoutMS     = 2000
	defaultLogReplay             = true
	defaultShutdownTimeout       = 30
	defaultSimulationWorkers     = 4
	defaultToolTimeoutSeconds    = 3600
	defaultJobRetentionHours     = 72
	defaultReapIntervalSeconds   = 600
	defaultHistoryRetentionDays  = 90
	defaultNotifyRequestTimeout  = 10
	defaultNotifyDedupWindowSecs = 300
)

const (
	// BackpressureDropOldest evicts the oldest buffered log message when full.
	BackpressureDropOldest = "drop_oldest"
	// BackpressureBlock waits for a consumer before evicting.
	BackpressureBlock = "block"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			WorkDir: defaultWorkDir,
		},
		Scheduler: Scheduler{
			MaxRunningJobs:         defaultMaxRunningJobs,
			LogCapacity:            defaultLogCapacity,
			LogBackpressure:        defaultLogBackpressure,
			LogBlockTimeoutMS:      defaultLogBlockTimeoutMS,
			LogReplay:              defaultLogReplay,
			ShutdownTimeoutSeconds: defaultShutdownTimeout,
		},
		Tools: Tools{
			SimulationWorkers: defaultSimulationWorkers,
			TimeoutSeconds:    defaultToolTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			JobFinished:        true,
			JobFailed:          true,
			JobCanceled:        true,
			DedupWindowSeconds: defaultNotifyDedupWindowSecs,
		},
		Retention: Retention{
			JobRetentionHours:    defaultJobRetentionHours,
			ReapIntervalSeconds:  defaultReapIntervalSeconds,
			HistoryRetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
