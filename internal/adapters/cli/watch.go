package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kirillkom/casefile/internal/core/domain"
)

func (r *runner) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print document lifecycle events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				if deps.Subscriber == nil {
					return domain.Validation("watch", "no event bus configured, set NATS_URL")
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				err := deps.Subscriber.SubscribeLifecycle(cmd.Context(), func(_ context.Context, ev domain.LifecycleEvent) error {
					return enc.Encode(ev)
				})
				if err != nil && cmd.Context().Err() != nil {
					return nil
				}
				return err
			})
		},
	}
}
