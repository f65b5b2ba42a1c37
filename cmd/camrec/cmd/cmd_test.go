package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/camrec/internal/config"
	"github.com/jmylchreest/camrec/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "camrec.yaml")
	content := `
logging:
  level: warn
database:
  dsn: ` + filepath.Join(dir, "camrec.db") + `
capture:
  source: testpattern
  width: 64
  height: 48
  frame_rate: 30
encoder:
  backend: synthetic
  frame_rate: 30
output:
  dir: ` + filepath.Join(dir, "out") + `
  min_free_space: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultOptions(t *testing.T) {
	c := config.Default()
	opts := defaultOptions(c)
	assert.Equal(t, c.Capture.Width, opts.Width)
	assert.Equal(t, c.Capture.Height, opts.Height)
	assert.Equal(t, c.Encoder.FrameRate, opts.FrameRate)
	assert.Equal(t, c.Pipeline.AutoStop, opts.AutoStop)
	assert.Equal(t, "mp4", opts.Container)

	c.Pipeline.AutoStop = 0
	assert.Equal(t, pipeline.NoAutoStop, defaultOptions(c).AutoStop)
}

func TestBackendFactory_Unknown(t *testing.T) {
	c := config.Default()
	c.Encoder.Backend = "quicksync"
	_, err := backendFactory(t.Context(), c, logger())
	assert.Error(t, err)
}

func TestScheduleEntries(t *testing.T) {
	sc := config.ScheduleConfig{
		Entries: []config.ScheduleEntry{
			{Name: "nightly", Cron: "0 0 2 * * *", Duration: time.Hour},
			{Cron: "@hourly", Duration: time.Minute},
		},
	}
	assert.Empty(t, scheduleEntries(sc))

	sc.Enabled = true
	entries := scheduleEntries(sc)
	require.Len(t, entries, 2)
	assert.Equal(t, "nightly", entries[0].Name)
	assert.Equal(t, "entry-1", entries[1].Name)
	assert.Equal(t, time.Minute, entries[1].Duration)
}

func TestToMap(t *testing.T) {
	c := config.Default()
	m := toMap(c)

	capture, ok := m["capture"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, c.Capture.Width, capture["width"])

	pipelineSection, ok := m["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "15s", pipelineSection["auto_stop"])

	output, ok := m["output"].(map[string]any)
	require.True(t, ok)
	assert.IsType(t, "", output["min_free_space"])
}

func TestConfigDump_RoundTrips(t *testing.T) {
	out, err := execute(t, "config", "dump")
	require.NoError(t, err)

	var dumped map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &dumped))
	assert.Contains(t, dumped, "encoder")
	assert.Contains(t, dumped, "schedule")

	path := filepath.Join(t.TempDir(), "dumped.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Output.MinFreeSpace, loaded.Output.MinFreeSpace)
	assert.Equal(t, config.Default().Catalog.Retention, loaded.Catalog.Retention)
}

func TestRecord_SyntheticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	out, err := execute(t, "record", "--config", cfgPath, "--duration", "300ms", "--label", "cli")
	require.NoError(t, err, out)
	assert.Contains(t, out, "State:      stopped (auto_stop)")

	files, err := filepath.Glob(filepath.Join(dir, "out", "*.mp4"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err = execute(t, "list", "--config", cfgPath, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "cli"`)

	out, err = execute(t, "probe", files[0])
	require.NoError(t, err)
	assert.Contains(t, out, "64x48")
}
