package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fastdl4u/fastdl/logger"
)

var version = "dev"

func main() {
	// Until the configuration says otherwise.
	logger.Init(os.Getenv("APP_ENV"))

	var envFile string
	root := &cobra.Command{
		Use:           "fastdl",
		Short:         "Telegram bot serving a media catalog and re-uploading downloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&envFile, "env", "e", ".env", "environment file, loaded when present")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "run the bot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(envFile)
			},
		},
		newSuperviseCommand(&envFile),
		&cobra.Command{
			Use:   "version",
			Short: "print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}
