package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/specialistvlad/flowlab/internal/app"
	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/worker"
)

// adminUser is the username posted with administrative requests.
const adminUser = "admin"

func newAdminCommand(o *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Send administrative commands to a running worker",
		Long: `Send administrative commands to a running worker through the shared
request queue. The worker must use the same store.`,
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", worker.DefaultReplyTimeout, "How long to wait for the worker's reply.")

	send := func(command worker.Command, payload func(args []string) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			req := store.Request{Username: adminUser, Command: string(command)}
			if payload != nil {
				v, err := payload(args)
				if err != nil {
					return err
				}
				b, err := sonic.ConfigStd.Marshal(v)
				if err != nil {
					return err
				}
				req.Payload = b
			}
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				client := a.Client()
				client.Timeout = timeout
				reply, err := client.Do(ctx, req)
				if err != nil {
					return err
				}
				return printReply(cmd.OutOrStdout(), reply)
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show-vars",
			Short: "List the variables held in the shared workspace",
			Args:  markUsage(cobra.NoArgs),
			RunE:  send(worker.CmdAdminShowVars, nil),
		},
		&cobra.Command{
			Use:   "reset-all",
			Short: "Drop every live session and soft snapshot",
			Args:  markUsage(cobra.NoArgs),
			RunE:  send(worker.CmdAdminResetAll, nil),
		},
		&cobra.Command{
			Use:   "shutdown-all",
			Short: "Autosave and evict every live session",
			Args:  markUsage(cobra.NoArgs),
			RunE:  send(worker.CmdAdminShutdownAll, nil),
		},
		&cobra.Command{
			Use:   "exec COMMAND...",
			Short: "Evaluate a raw workspace command",
			Args:  markUsage(cobra.MinimumNArgs(1)),
			RunE: send(worker.CmdAdminCmd, func(args []string) (any, error) {
				return worker.AdminCmdPayload{Cmd: strings.Join(args, " ")}, nil
			}),
		},
	)
	return cmd
}

// printReply writes the human-readable parts of reply to w. Error replies
// become errors.
func printReply(w io.Writer, reply *worker.Reply) error {
	if reply.FatalError != "" {
		return fmt.Errorf("worker failed: %s", reply.FatalError)
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	if reply.Msg != "" {
		fmt.Fprintln(w, reply.Msg)
	}
	for _, v := range reply.Vars {
		fmt.Fprintln(w, v)
	}
	if reply.Ans != "" {
		fmt.Fprintln(w, reply.Ans)
	}
	return nil
}
