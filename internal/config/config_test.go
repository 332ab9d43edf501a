package config_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/snapshot"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "@every 5m", cfg.Monitor.Schedule)
	assert.Equal(t, 0.01, cfg.Monitor.Threshold)
	assert.Equal(t, 20, cfg.Monitor.MaxSnapshots)
	assert.True(t, cfg.Browser.Headless)
	require.Len(t, cfg.Targets.Viewports, 1)
	assert.Equal(t, "desktop", cfg.Targets.Viewports[0].Name)

	assert.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"threshold above one", func(c *config.Config) { c.Monitor.Threshold = 1.5 }, "monitor.threshold"},
		{"negative threshold", func(c *config.Config) { c.Monitor.Threshold = -0.1 }, "monitor.threshold"},
		{"zero max snapshots", func(c *config.Config) { c.Monitor.MaxSnapshots = 0 }, "monitor.max_snapshots"},
		{"zero concurrency", func(c *config.Config) { c.Monitor.Concurrency = 0 }, "monitor.concurrency"},
		{"empty root dir", func(c *config.Config) { c.Storage.RootDir = "" }, "storage.root_dir"},
		{"unnamed viewport", func(c *config.Config) { c.Targets.Viewports[0].Name = "" }, "viewports[0].name"},
		{"zero width viewport", func(c *config.Config) { c.Targets.Viewports[0].Width = 0 }, "dimensions"},
		{
			"channel without type",
			func(c *config.Config) { c.Alerts.Channels = []config.ChannelConfig{{Name: "x"}} },
			"channel type is required",
		},
		{
			"chat channel without url",
			func(c *config.Config) { c.Alerts.Channels = []config.ChannelConfig{{Type: "chat"}} },
			"webhook_url is required",
		},
		{
			"unknown channel type",
			func(c *config.Config) { c.Alerts.Channels = []config.ChannelConfig{{Type: "pager"}} },
			"unknown channel type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfigFromViper_InvalidRejected(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("monitor.max_snapshots", -1)

	cfg, err := config.NewConfigFromViper(v)
	assert.Nil(t, cfg)
	assert.Error(t, err)
}

func TestTargetsExpand_CrossProduct(t *testing.T) {
	tc := config.TargetsConfig{
		URLs: []string{"https://a.example", "https://b.example"},
		Viewports: []config.ViewportConfig{
			{Name: "desktop", Width: 1920, Height: 1080},
			{Name: "mobile", Width: 375, Height: 812},
		},
		Selectors: []string{"#hero", "#footer"},
	}

	targets := tc.Expand()
	assert.Len(t, targets, 8)

	want := snapshot.Target{
		URL:      "https://a.example",
		Viewport: snapshot.Viewport{Name: "desktop", Width: 1920, Height: 1080},
		Selector: "#hero",
	}
	if diff := cmp.Diff(want, targets[0]); diff != "" {
		t.Errorf("first target mismatch (-want +got):\n%s", diff)
	}
}

func TestTargetsExpand_NoSelectorsMeansFullViewport(t *testing.T) {
	tc := config.TargetsConfig{
		URLs:      []string{"https://a.example"},
		Viewports: []config.ViewportConfig{{Name: "desktop", Width: 1920, Height: 1080}},
	}

	targets := tc.Expand()
	require.Len(t, targets, 1)
	assert.Empty(t, targets[0].Selector)
}

func TestViewportByName(t *testing.T) {
	tc := config.TargetsConfig{
		Viewports: []config.ViewportConfig{{Name: "mobile", Width: 375, Height: 812}},
	}

	vp, ok := tc.ViewportByName("mobile")
	require.True(t, ok)
	assert.Equal(t, 375, vp.Width)

	_, ok = tc.ViewportByName("tv")
	assert.False(t, ok)
}
