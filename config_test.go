package jscore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/buke/jscore-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseConfig tests decoding TOML on top of the defaults
func TestParseConfig(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    func() jscore.Config
		wantErr string
	}{
		{
			name:  "Empty",
			input: ``,
			want:  jscore.DefaultConfig,
		},
		{
			name: "AllFields",
			input: `
gc_pump_passes = 3
gc_pump_interval = "20ms"
console = false
log_level = "warn"
`,
			want: func() jscore.Config {
				return jscore.Config{
					GCPumpPasses:   3,
					GCPumpInterval: 20 * time.Millisecond,
					Console:        false,
					LogLevel:       "warn",
				}
			},
		},
		{
			name:  "Partial",
			input: `console = false`,
			want: func() jscore.Config {
				cfg := jscore.DefaultConfig()
				cfg.Console = false
				return cfg
			},
		},
		{
			name:    "ZeroPasses",
			input:   `gc_pump_passes = 0`,
			wantErr: "gc_pump_passes must be positive",
		},
		{
			name:    "NegativeInterval",
			input:   `gc_pump_interval = "-1s"`,
			wantErr: "gc_pump_interval must not be negative",
		},
		{
			name:    "BadLevel",
			input:   `log_level = "loud"`,
			wantErr: "log_level",
		},
		{
			name:    "Malformed",
			input:   `gc_pump_passes = `,
			wantErr: "parse config",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := jscore.ParseConfig([]byte(tc.input))
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want(), cfg)
		})
	}
}

// TestLoadConfig tests reading the configuration from a file
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jscore.toml")
	require.NoError(t, os.WriteFile(path, []byte("gc_pump_passes = 2\nconsole = false\n"), 0o644))

	cfg, err := jscore.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.GCPumpPasses)
	assert.False(t, cfg.Console)
	assert.Equal(t, jscore.DefaultConfig().GCPumpInterval, cfg.GCPumpInterval)

	group := jscore.NewContextGroup(jscore.WithConfig(cfg))
	defer group.Release()
	ctx := jscore.NewGlobalContextInGroup(group, nil)
	defer ctx.Release()
	assert.Equal(t, "undefined", toString(t, eval(t, ctx, `typeof console`)))

	_, err = jscore.LoadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.toml")
}

// TestConfigLogger tests the logger built from the configured level
func TestConfigLogger(t *testing.T) {
	l, err := jscore.DefaultConfig().Logger()
	require.NoError(t, err)
	assert.Nil(t, l)

	cfg := jscore.DefaultConfig()
	cfg.LogLevel = "debug"
	l, err = cfg.Logger()
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(-1))

	cfg.LogLevel = "nope"
	_, err = cfg.Logger()
	assert.Error(t, err)

	// invalid options leave the defaults in place
	group := jscore.NewContextGroup(jscore.WithGCPumpPasses(0), jscore.WithGCPumpInterval(-time.Second))
	defer group.Release()
	ctx := jscore.NewGlobalContextInGroup(group, nil)
	defer ctx.Release()
	ctx.GarbageCollect()
}
