package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "clipfetch",
	Short: "Telegram bot that fetches media links and re-uploads them to the chat",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the session sweeper, and the ops HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (falls back to CONFIG_PATH, then ./config.toml)")
	rootCmd.AddCommand(serveCmd)
}
