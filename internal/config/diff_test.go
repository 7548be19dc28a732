package config_test

import (
	"testing"

	"github.com/voyagerlabs/listenkit/internal/config"
)

func TestDiffDetectsListenChanges(t *testing.T) {
	t.Parallel()

	old := &config.Config{}
	old.Listen.Locale = "ko-KR"
	old.Listen.ThrottleInterval = config.Duration(80e6)

	newCfg := &config.Config{}
	newCfg.Listen.Locale = "en-US"
	newCfg.Listen.ThrottleInterval = config.Duration(50e6)

	d := config.Diff(old, newCfg)
	if !d.ListenChanged {
		t.Fatal("ListenChanged = false, want true")
	}
	if len(d.ListenChanges) != 2 {
		t.Errorf("ListenChanges = %v, want 2 entries", d.ListenChanges)
	}
}

func TestDiffDetectsProviderAndLogLevel(t *testing.T) {
	t.Parallel()

	old := &config.Config{}
	old.Server.LogLevel = config.LogInfo
	old.Provider.Name = "whisper"

	newCfg := &config.Config{}
	newCfg.Server.LogLevel = config.LogDebug
	newCfg.Provider.Name = "wsbridge"

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("LogLevelChanged = %v/%q, want true/debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.ProviderChanged {
		t.Error("ProviderChanged = false, want true")
	}
	if d.ListenChanged {
		t.Error("ListenChanged = true for identical listen blocks")
	}
}

func TestDiffIdenticalConfigs(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Provider.Name = "whisper"
	d := config.Diff(cfg, cfg)
	if d.ListenChanged || d.ProviderChanged || d.AudioChanged || d.LogLevelChanged {
		t.Errorf("Diff(x, x) = %+v, want no changes", d)
	}
}
