package main

import (
	"fmt"
	"os"

	"github.com/zilliqa/persistence-sync/cmd/persistence/commands"
	"github.com/zilliqa/persistence-sync/libs/cli"
)

func main() {
	rootCmd := commands.RootCmd
	rootCmd.AddCommand(
		commands.DownloadCmd,
		commands.UploadCmd,
		commands.VersionCmd,
	)

	cmd := cli.PrepareBaseCmd(rootCmd, "PSYNC", os.ExpandEnv("$HOME/.persistence-sync"))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
