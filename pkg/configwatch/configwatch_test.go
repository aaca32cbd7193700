package configwatch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/schemafetch-go/pkg/client"
	"github.com/cexll/schemafetch-go/pkg/configwatch"
	"github.com/cexll/schemafetch-go/pkg/schema"
)

func writeDefaults(t *testing.T, path, yamlBody string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
}

func TestStartAppliesInitialDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	writeDefaults(t, path, "headers:\n  X-Api-Key: abc\ntimeoutMs: 2500\n")

	c, err := client.New(client.Options{BaseURL: "http://example.invalid", Catalog: schema.Catalog{}})
	require.NoError(t, err)
	t.Cleanup(c.Dispose)

	w, err := configwatch.New(path, c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	d, err := w.Start()
	require.NoError(t, err)
	require.Equal(t, "abc", d.Headers["X-Api-Key"])
	require.EqualValues(t, 2500, d.TimeoutMs)
}

func TestReloadInvokesOnChangeAfterFileEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	writeDefaults(t, path, "headers:\n  X-Api-Key: first\n")

	c, err := client.New(client.Options{BaseURL: "http://example.invalid", Catalog: schema.Catalog{}})
	require.NoError(t, err)
	t.Cleanup(c.Dispose)

	changed := make(chan configwatch.Defaults, 4)
	w, err := configwatch.New(path, c,
		configwatch.WithDebounce(10*time.Millisecond),
		configwatch.OnChange(func(d configwatch.Defaults) { changed <- d }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	_, err = w.Start()
	require.NoError(t, err)
	<-changed // initial

	writeDefaults(t, path, "headers:\n  X-Api-Key: second\n")

	select {
	case d := <-changed:
		require.Equal(t, "second", d.Headers["X-Api-Key"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestMissingFileReportsErrorWithoutApplying(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")

	c, err := client.New(client.Options{BaseURL: "http://example.invalid", Catalog: schema.Catalog{}})
	require.NoError(t, err)
	t.Cleanup(c.Dispose)

	w, err := configwatch.New(path, c)
	require.NoError(t, err)

	_, err = w.Start()
	require.Error(t, err)
}
