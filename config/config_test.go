package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
sink:
  id: svc
containerfile:
  directory: /tmp/out
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Sink.RateHz)
	assert.Equal(t, "containerfile", cfg.Sink.Variant)
	assert.Equal(t, "bin", cfg.ContainerFile.Extension)
	assert.Equal(t, "none", cfg.ContainerFile.Compression)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsUnknownVariant(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
sink:
  id: svc
  variant: carrier-pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingContainerFileDirectory(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
sink:
  id: svc
  variant: containerfile
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingTopicBusBrokers(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
sink:
  id: svc
  variant: topicbus
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestReloaderFiresOnReloadableFieldChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
sink:
  id: svc
containerfile:
  directory: /tmp/a
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	changes := make(chan ReloadableFields, 1)
	reloader, err := NewReloader(path, cfg, testLogger(), func(f ReloadableFields) {
		changes <- f
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloader.Start(ctx)
	defer reloader.Stop()

	writeConfig(t, dir, `
sink:
  id: svc
containerfile:
  directory: /tmp/b
`)

	select {
	case f := <-changes:
		assert.Equal(t, "/tmp/b", f.ContainerFileDirectory)
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload callback, got none")
	}
}

func TestReloaderIgnoresUnrelatedFileInDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
sink:
  id: svc
containerfile:
  directory: /tmp/a
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	changes := make(chan ReloadableFields, 1)
	reloader, err := NewReloader(path, cfg, testLogger(), func(f ReloadableFields) {
		changes <- f
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloader.Start(ctx)
	defer reloader.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	select {
	case <-changes:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(400 * time.Millisecond):
	}
}
