package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/listenupapp/bookstream/internal/protocol"
)

func newWatchCommand(flags *globalFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print catalog changes as they happen",
		Long: `Watch keeps a stream open and prints every change broadcast by the
server until interrupted. The stream reconnects after it is lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := flags.connect(cmd)
			if err != nil {
				return err
			}
			defer m.Disconnect()

			out := cmd.OutOrStdout()
			unsubscribe := m.OnEnvelope(func(resp protocol.Response) {
				if !all && !resp.IsBroadcast() {
					return
				}
				if err := printEnvelope(out, flags.output, resp); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "print: %v\n", err)
				}
			})
			defer unsubscribe()

			stopErrors := m.OnError(func(err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "stream lost: %v (reconnecting)\n", err)
			})
			defer stopErrors()

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also print direct answers, such as the initial snapshot")
	return cmd
}
