package config_test

import (
	"errors"
	"testing"

	"github.com/voyagerlabs/listenkit/internal/config"
	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/asr/mock"
	"github.com/voyagerlabs/listenkit/pkg/audio"
	audiomock "github.com/voyagerlabs/listenkit/pkg/audio/mock"
)

func TestRegistryCreateASR(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterASR("mock", func(entry config.ProviderEntry) (asr.Provider, error) {
		return &mock.Provider{NameValue: entry.Name}, nil
	})

	p, err := reg.CreateASR(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateASR() = %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("Name() = %q, want %q", p.Name(), "mock")
	}
}

func TestRegistryUnknownNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateASR(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateASR(unknown) = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateAudio(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAudio(unknown) = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryCreateAudio(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.SourceFactory, error) {
		return func() (audio.Source, error) { return audiomock.NewSource(), nil }, nil
	})

	factory, err := reg.CreateAudio(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateAudio() = %v", err)
	}
	src, err := factory()
	if err != nil {
		t.Fatalf("factory() = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
