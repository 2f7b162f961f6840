package cmd

import (
	"github.com/spf13/cobra"
)

func newSubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Consume crawl trigger messages from Pub/Sub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sub, err := a.Subscriber(cmd.Context())
			if err != nil {
				return err
			}
			return sub.Run(cmd.Context())
		},
	}
}
