package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/config"
)

func completeConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.StoragePath = "/data"
	cfg.BucketName = "bucket"
	cfg.TestnetName = "testnet"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 50, cfg.Download.Threads)
	assert.True(t, cfg.Download.ExcludeMicroBlocks)
	assert.Zero(t, cfg.Download.NumDSBlock)

	assert.Equal(t, 10, cfg.Upload.Threads)
	assert.Equal(t, 60*time.Second, cfg.Upload.TxBlkTime)
	assert.Equal(t, 600*time.Second, cfg.Upload.DSBlkTime)
	assert.True(t, cfg.Upload.Backup)

	assert.False(t, cfg.Instrumentation.Prometheus)
}

func TestValidateBasic(t *testing.T) {
	require.NoError(t, completeConfig().ValidateBasic())

	testCases := map[string]func(*config.Config){
		"missing storage path":  func(c *config.Config) { c.StoragePath = "" },
		"missing bucket name":   func(c *config.Config) { c.BucketName = "" },
		"missing testnet name":  func(c *config.Config) { c.TestnetName = "" },
		"zero download threads": func(c *config.Config) { c.Download.Threads = 0 },
		"zero upload threads":   func(c *config.Config) { c.Upload.Threads = 0 },
		"zero txblktime":        func(c *config.Config) { c.Upload.TxBlkTime = 0 },
		"negative dsblktime":    func(c *config.Config) { c.Upload.DSBlkTime = -time.Second },
	}

	for name, corrupt := range testCases {
		corrupt := corrupt
		t.Run(name, func(t *testing.T) {
			cfg := completeConfig()
			corrupt(cfg)
			require.Error(t, cfg.ValidateBasic())
		})
	}
}
