package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/tabula/common/messaging"
	natsclient "github.com/telhawk-systems/tabula/common/messaging/nats"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream history events from NATS",
	Long:  "Subscribe to the events published when conversions are recorded and history is cleared.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		subject, _ := cmd.Flags().GetString("subject")

		nc := natsclient.DefaultConfig()
		nc.URL = cfg.NATS.URL
		nc.Name = "tabula-watch"
		client, err := natsclient.NewClient(nc, newLogger(cfg).Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		_, err = client.Subscribe(subject, func(_ context.Context, msg *messaging.Message) error {
			_, werr := fmt.Fprintf(out, "%s %s %s\n",
				msg.Timestamp.Format("15:04:05.000"), msg.Subject, msg.Data)
			return werr
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s on %s\n", subject, nc.URL)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("subject", messaging.SubjectAll, "subject to subscribe to")
}
