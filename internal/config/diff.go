package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	ModelsChanged   bool // true if any model entry was added, removed, or changed
	ModelChanges    []ModelDiff
	VoicesChanged   bool // true if any voice entry was added, removed, or changed
	VoiceChanges    []VoiceDiff
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// ModelDiff describes what changed for a single registered model between two
// configs.
type ModelDiff struct {
	Name         string
	FamilyChanged bool
	DeviceChanged bool
	Added        bool
	Removed      bool
}

// VoiceDiff describes what changed for a single registered voice between two
// configs.
type VoiceDiff struct {
	Name           string
	ParamsChanged  bool // provider, voice id, pitch, or speed changed
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldModels := make(map[string]*ModelConfig, len(old.Models))
	for i := range old.Models {
		oldModels[old.Models[i].Name] = &old.Models[i]
	}
	newModels := make(map[string]*ModelConfig, len(new.Models))
	for i := range new.Models {
		newModels[new.Models[i].Name] = &new.Models[i]
	}

	for name, oldModel := range oldModels {
		newModel, exists := newModels[name]
		if !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Name: name, Removed: true})
			d.ModelsChanged = true
			continue
		}
		md := diffModel(name, oldModel, newModel)
		if md.FamilyChanged || md.DeviceChanged {
			d.ModelChanges = append(d.ModelChanges, md)
			d.ModelsChanged = true
		}
	}
	for name := range newModels {
		if _, exists := oldModels[name]; !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Name: name, Added: true})
			d.ModelsChanged = true
		}
	}

	oldVoices := make(map[string]*VoiceConfig, len(old.Voices))
	for i := range old.Voices {
		oldVoices[old.Voices[i].Name] = &old.Voices[i]
	}
	newVoices := make(map[string]*VoiceConfig, len(new.Voices))
	for i := range new.Voices {
		newVoices[new.Voices[i].Name] = &new.Voices[i]
	}

	for name, oldVoice := range oldVoices {
		newVoice, exists := newVoices[name]
		if !exists {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, Removed: true})
			d.VoicesChanged = true
			continue
		}
		if *oldVoice != *newVoice {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, ParamsChanged: true})
			d.VoicesChanged = true
		}
	}
	for name := range newVoices {
		if _, exists := oldVoices[name]; !exists {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, Added: true})
			d.VoicesChanged = true
		}
	}

	return d
}

// diffModel compares two model configs with the same name.
func diffModel(name string, old, new *ModelConfig) ModelDiff {
	md := ModelDiff{Name: name}
	if old.Family != new.Family {
		md.FamilyChanged = true
	}
	if old.Device != new.Device {
		md.DeviceChanged = true
	}
	return md
}
