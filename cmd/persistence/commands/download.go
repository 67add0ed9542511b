package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/sync"
)

// DownloadCmd synchronizes the local persistence replica against the bucket
// and exits once it has caught up with the producer's tip.
var DownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the persistence replica and catch it up to the chain tip",
	Long: `
download bootstraps a local replica of the node's persistence state from the
remote bucket and advances it with full snapshots and block-range diffs until
it matches the tip published by the uploader. The storage path is owned
exclusively by this process for the duration of the sync.
`,
	RunE: runDownload,
}

func init() {
	DownloadCmd.Flags().UintP("threads", "t", uint(sync.DefaultDownloadThreads),
		"the (maximum) number of threads to use when downloading persistence")
	DownloadCmd.Flags().Bool("exclude-micro-blocks", true,
		"skip micro-block content (txEpochs, txBodies, microBlock, minerInfo)")
	DownloadCmd.Flags().Uint64("num-dsblock", 0,
		"chain constant NUM_DSBLOCK; with num-final-block-per-pow, enables diff sync across DS epochs")
	DownloadCmd.Flags().Uint64("num-final-block-per-pow", 0,
		"chain constant NUM_FINAL_BLOCK_PER_POW")
}

func runDownload(cmd *cobra.Command, args []string) error {
	conf := config
	fs := cmd.Flags()
	if fs.Changed("threads") {
		conf.Download.Threads = viper.GetInt("threads")
	}
	if fs.Changed("exclude-micro-blocks") {
		conf.Download.ExcludeMicroBlocks = viper.GetBool("exclude-micro-blocks")
	}
	if fs.Changed("num-dsblock") {
		conf.Download.NumDSBlock = viper.GetUint64("num-dsblock")
	}
	if fs.Changed("num-final-block-per-pow") {
		conf.Download.NumFinalBlockPerPOW = viper.GetUint64("num-final-block-per-pow")
	}

	if err := conf.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := conf.Download.ValidateBasic(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c
		cancel()
	}()

	metrics := sync.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = sync.PrometheusMetrics(conf.Instrumentation.Namespace,
			"testnet", conf.TestnetName)
		go func() {
			srv := &http.Server{
				Addr:    conf.Instrumentation.PrometheusListenAddr,
				Handler: promhttp.Handler(),
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("prometheus server failed", "err", err)
			}
		}()
	}

	client := bucket.NewGCSClient(conf.BucketName)
	layout := bucket.Layout{StorageRoot: conf.StoragePath, Testnet: conf.TestnetName}

	downloader := sync.NewDownloader(logger.With("module", "download"), client, layout,
		conf.Download.Threads,
		sync.WithMetrics(metrics),
		sync.WithExcludeMicroBlocks(conf.Download.ExcludeMicroBlocks),
		sync.WithDSEpochLength(conf.Download.NumDSBlock, conf.Download.NumFinalBlockPerPOW),
	)

	logger.Info("starting persistence download",
		"bucket", conf.BucketName, "testnet", conf.TestnetName, "storage", conf.StoragePath)

	return downloader.Start(ctx)
}
