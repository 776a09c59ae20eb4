package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/powergov/simulator"
)

const drillScenario = `name: drill
duration: 1s
motors:
  - id: drill
    priority: 4
    demand_amps: 45
steps:
  - at: 0s
    motor: drill
    action: activate
`

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func resetFlags() {
	scenarioPath, bridgeMode, jsonOutput, chartPath = "", false, false, ""
}

func TestSimulateJSON(t *testing.T) {
	defer resetFlags()
	sc := writeFile(t, "drill.yaml", drillScenario)
	cfg := writeFile(t, "config.yaml", "governor:\n  spike_threshold_amps: 10\n  min_spike_duration_seconds: 0.1\n  target_total_amps: 20\n")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"simulate", "-c", cfg, "-s", sc, "--json"})
	require.NoError(t, rootCmd.Execute())

	var res simulator.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "drill", res.Scenario)
	assert.Equal(t, 1, res.Episodes)
	assert.Equal(t, 51, res.Ticks)
}

func TestSimulateTableWithoutConfigFile(t *testing.T) {
	defer resetFlags()
	sc := writeFile(t, "drill.yaml", drillScenario)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"simulate", "-c", filepath.Join(t.TempDir(), "absent.yaml"), "-s", sc})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "scenario")
	assert.Contains(t, out.String(), "peak current")
}

func TestSimulateRequiresScenario(t *testing.T) {
	defer resetFlags()
	rootCmd.SetArgs([]string{"simulate", "-c", filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, rootCmd.Execute())
}

func TestSimulateBridgeRequiresBroker(t *testing.T) {
	defer resetFlags()
	sc := writeFile(t, "drill.yaml", drillScenario)
	rootCmd.SetArgs([]string{"simulate", "-c", filepath.Join(t.TempDir(), "absent.yaml"), "-s", sc, "--bridge"})
	assert.Error(t, rootCmd.Execute())
}

func TestSimulateChart(t *testing.T) {
	defer resetFlags()
	sc := writeFile(t, "drill.yaml", drillScenario)
	chart := filepath.Join(t.TempDir(), "run.html")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"simulate", "-c", filepath.Join(t.TempDir(), "absent.yaml"), "-s", sc, "--chart", chart})
	require.NoError(t, rootCmd.Execute())

	html, err := os.ReadFile(chart)
	require.NoError(t, err)
	assert.Contains(t, string(html), "drill")
	assert.Contains(t, out.String(), "peak current")
}
