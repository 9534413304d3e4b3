package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ai-saas/internal/stream"
)

var history []string

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and stream the reply",
	Example: `  chatcli send "and in French?" --history "say hi" --history "hi"
  echo "long question" | chatcli send -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := args[0]
		if msg == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			msg = strings.TrimSpace(string(b))
		}

		log := logrus.New()
		log.SetOutput(cmd.ErrOrStderr())
		if !verbose {
			log.SetLevel(logrus.ErrorLevel)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		client := stream.NewClient(endpoint, token, log)
		err := client.Stream(ctx, history, msg, func(fragment string) {
			fmt.Fprint(out, fragment)
		})
		fmt.Fprintln(out)

		var te *stream.TransportError
		if errors.As(err, &te) && te.Status == 401 {
			return fmt.Errorf("not signed in (use --token): %w", err)
		}
		return err
	},
}

func init() {
	sendCmd.Flags().StringArrayVar(&history, "history", nil, "earlier messages, alternating user and assistant, oldest first")
}
