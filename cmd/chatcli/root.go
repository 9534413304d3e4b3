package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	endpoint string
	token    string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for the chat completions stream",
	Long: `chatcli sends a conversation to the chat completions endpoint and prints
the assistant reply fragment by fragment as it arrives.`,
	SilenceUsage: true,
}

func init() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", envOr("CHAT_ENDPOINT", "http://localhost:8080/chat/completions"), "chat completions URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHAT_TOKEN"), "bearer token from /login")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log skipped frames")
	rootCmd.AddCommand(sendCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
