package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zilliqa/persistence-sync/internal/bucket"
	"github.com/zilliqa/persistence-sync/internal/sync"
)

// UploadCmd runs the uploader service that publishes the node's persistence
// state to the bucket on the tx-block and DS-block cadences.
var UploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Continuously upload the node's persistence state to the bucket",
	RunE:  runUpload,
}

func init() {
	UploadCmd.Flags().StringP("webhook", "w", "", "webhook URL notified on upload failures")
	UploadCmd.Flags().UintP("txblktime", "x", 60, "avg time for a Tx block to get mined (in seconds)")
	UploadCmd.Flags().UintP("dsblktime", "d", 600, "avg time for a DS block to get mined (in seconds)")
	// note: no shorthand, -b belongs to --bucket-name
	UploadCmd.Flags().Bool("backup", true, "upload to backup")
	UploadCmd.Flags().UintP("threads", "t", uint(sync.DefaultUploadThreads),
		"the (maximum) number of threads to use when uploading persistence")
}

func runUpload(cmd *cobra.Command, args []string) error {
	conf := config
	fs := cmd.Flags()
	if fs.Changed("webhook") {
		conf.Upload.WebhookURL = viper.GetString("webhook")
	}
	if fs.Changed("txblktime") {
		conf.Upload.TxBlkTime = time.Duration(viper.GetUint64("txblktime")) * time.Second
	}
	if fs.Changed("dsblktime") {
		conf.Upload.DSBlkTime = time.Duration(viper.GetUint64("dsblktime")) * time.Second
	}
	if fs.Changed("backup") {
		conf.Upload.Backup = viper.GetBool("backup")
	}
	if fs.Changed("threads") {
		conf.Upload.Threads = viper.GetInt("threads")
	}

	if err := conf.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := conf.Upload.ValidateBasic(); err != nil {
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

	client := bucket.NewGCSClient(conf.BucketName)
	layout := bucket.Layout{StorageRoot: conf.StoragePath, Testnet: conf.TestnetName}

	uploader := sync.NewUploader(logger.With("module", "upload"), client, layout,
		sync.UploaderConfig{
			WebhookURL: conf.Upload.WebhookURL,
			TxBlkTime:  conf.Upload.TxBlkTime,
			DSBlkTime:  conf.Upload.DSBlkTime,
			Backup:     conf.Upload.Backup,
			Threads:    conf.Upload.Threads,
		})

	if err := uploader.Start(ctx); err != nil {
		return err
	}

	logger.Info("uploader running",
		"bucket", conf.BucketName, "testnet", conf.TestnetName, "storage", conf.StoragePath)

	<-ctx.Done()
	return uploader.Stop()
}
