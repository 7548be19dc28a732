package config

import "fmt"

// ConfigDiff describes what changed between two configs. Listen tuning and
// log level can be hot-applied; provider and audio changes require a restart
// of the daemon.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProviderChanged bool
	AudioChanged    bool

	ListenChanged bool
	ListenChanges []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Provider.Name != new.Provider.Name {
		d.ProviderChanged = true
	}
	if old.Audio.Name != new.Audio.Name {
		d.AudioChanged = true
	}

	o, n := old.Listen, new.Listen
	if o.Locale != n.Locale {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("locale: %q -> %q", o.Locale, n.Locale))
	}
	if o.ThrottleInterval != n.ThrottleInterval {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("throttle_interval: %s -> %s", o.ThrottleInterval.Std(), n.ThrottleInterval.Std()))
	}
	if o.RestartDelay != n.RestartDelay {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("restart_delay: %s -> %s", o.RestartDelay.Std(), n.RestartDelay.Std()))
	}
	if o.ForcedCleanupDelay != n.ForcedCleanupDelay {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("forced_cleanup_delay: %s -> %s", o.ForcedCleanupDelay.Std(), n.ForcedCleanupDelay.Std()))
	}
	if o.StartTimeout != n.StartTimeout {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("start_timeout: %s -> %s", o.StartTimeout.Std(), n.StartTimeout.Std()))
	}
	if o.CancelGrace != n.CancelGrace {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("cancel_grace: %s -> %s", o.CancelGrace.Std(), n.CancelGrace.Std()))
	}
	if o.DuplicateThreshold != n.DuplicateThreshold {
		d.ListenChanges = append(d.ListenChanges, fmt.Sprintf("duplicate_threshold: %.2f -> %.2f", o.DuplicateThreshold, n.DuplicateThreshold))
	}
	d.ListenChanged = len(d.ListenChanges) > 0

	return d
}
