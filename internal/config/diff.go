package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// InterventionChanged is true when any intervention tuning value changed.
	InterventionChanged bool
	NewIntervention     InterventionConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: provider and
// store changes require a new process.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !interventionEqual(old.Intervention, new.Intervention) {
		d.InterventionChanged = true
		d.NewIntervention = new.Intervention
	}

	return d
}

func interventionEqual(a, b InterventionConfig) bool {
	if a.Threshold != b.Threshold ||
		a.WindowSize != b.WindowSize ||
		a.TriggerDelay != b.TriggerDelay ||
		a.Cooldown != b.Cooldown ||
		a.StartTimeout != b.StartTimeout ||
		a.PatientSpeakerID != b.PatientSpeakerID {
		return false
	}
	return boolPtrEqual(a.AttributeAllSpeakers, b.AttributeAllSpeakers)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
