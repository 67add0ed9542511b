package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds every tunable of the persistence tooling. Field values come
// from flags, the optional config file, and PSYNC_* environment variables,
// in the usual viper precedence order.
type Config struct {
	BaseConfig `mapstructure:",squash"`

	Download        *DownloadConfig        `mapstructure:"download"`
	Upload          *UploadConfig          `mapstructure:"upload"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Download:        DefaultDownloadConfig(),
		Upload:          DefaultUploadConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Download.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [download] section: %w", err)
	}
	if err := cfg.Upload.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [upload] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------

// BaseConfig defines the base configuration shared by the downloader and the
// uploader.
type BaseConfig struct {
	// RootDir is the home directory holding the optional config file.
	RootDir string `mapstructure:"home"`

	// StoragePath is the local directory owning the persistence replica.
	StoragePath string `mapstructure:"storage-path"`

	// BucketName is the remote bucket to synchronize against.
	BucketName string `mapstructure:"bucket-name"`

	// TestnetName selects the network inside the bucket's key layout.
	TestnetName string `mapstructure:"testnet-name"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LogLevel:  "info",
		LogFormat: "plain",
	}
}

func (cfg BaseConfig) ValidateBasic() error {
	if cfg.StoragePath == "" {
		return errors.New("storage-path is required")
	}
	if cfg.BucketName == "" {
		return errors.New("bucket-name is required")
	}
	if cfg.TestnetName == "" {
		return errors.New("testnet-name is required")
	}
	return nil
}

//-----------------------------------------------------------------------------

// DownloadConfig defines the configuration of the downloader.
type DownloadConfig struct {
	// Threads bounds the download worker pool.
	Threads int `mapstructure:"threads"`

	// ExcludeMicroBlocks skips txEpochs, txBodies, microBlock and
	// minerInfo objects; a bootstrapping node does not need them.
	ExcludeMicroBlocks bool `mapstructure:"exclude-micro-blocks"`

	// NumDSBlock and NumFinalBlockPerPOW are the chain constants whose
	// product is the DS-epoch length in tx blocks. When either is zero the
	// downloader cannot detect snapshot rotations and falls back to a full
	// snapshot on every tip advance.
	NumDSBlock          uint64 `mapstructure:"num-dsblock"`
	NumFinalBlockPerPOW uint64 `mapstructure:"num-final-block-per-pow"`
}

func DefaultDownloadConfig() *DownloadConfig {
	return &DownloadConfig{
		Threads:            50,
		ExcludeMicroBlocks: true,
	}
}

func (cfg *DownloadConfig) ValidateBasic() error {
	if cfg.Threads < 1 {
		return errors.New("threads must be at least 1")
	}
	return nil
}

//-----------------------------------------------------------------------------

// UploadConfig defines the configuration of the uploader service.
type UploadConfig struct {
	// WebhookURL receives failure notifications when set.
	WebhookURL string `mapstructure:"webhook"`

	// TxBlkTime is the average tx-block interval; incremental uploads run
	// on this cadence.
	TxBlkTime time.Duration `mapstructure:"txblktime"`

	// DSBlkTime is the average DS-block interval; full snapshot uploads
	// run on this cadence.
	DSBlkTime time.Duration `mapstructure:"dsblktime"`

	// Backup enables uploading at all.
	Backup bool `mapstructure:"backup"`

	Threads int `mapstructure:"threads"`
}

func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		TxBlkTime: 60 * time.Second,
		DSBlkTime: 600 * time.Second,
		Backup:    true,
		Threads:   10,
	}
}

func (cfg *UploadConfig) ValidateBasic() error {
	if cfg.Threads < 1 {
		return errors.New("threads must be at least 1")
	}
	if cfg.TxBlkTime <= 0 {
		return errors.New("txblktime must be positive")
	}
	if cfg.DSBlkTime <= 0 {
		return errors.New("dsblktime must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// Prometheus enables the metrics endpoint.
	Prometheus bool `mapstructure:"prometheus"`

	// PrometheusListenAddr is the address the metrics server binds to.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Namespace is the metrics namespace.
	Namespace string `mapstructure:"namespace"`
}

func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "zilliqa",
	}
}
