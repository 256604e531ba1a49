package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
	"github.com/tonylturner/mbstack/internal/ui"
)

// runWizard is replaced in tests.
var runWizard = ui.RunWizard

type wizardFlags struct {
	channel    channelFlags
	accessible bool
	run        bool
}

func newWizardCmd() *cobra.Command {
	flags := &wizardFlags{}

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Build a master command interactively",
		Long: `Walk through the connection settings and one request in a form, then print
the equivalent 'mbstack master' command. Connection flags, MBSTACK_*
variables and --config prefill the form. With --run the request is sent
right away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := flags.channel.masterChannel(cmd)
			if err != nil {
				return err
			}
			answers, spec, err := runWizard(ch, flags.accessible)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.FormatCommand(spec.Args))
			if answers.Copy {
				fmt.Fprintln(out, "Copied to clipboard.")
			}
			if !flags.run {
				return nil
			}

			wch, err := answers.Channel()
			if err != nil {
				return err
			}
			req, err := answers.Request()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return app.RunMaster(ctx, app.MasterOptions{
				Channel: wch,
				Request: req,
				Repeat:  1,
				Out:     out,
			})
		},
	}

	registerChannelFlags(cmd, &flags.channel, false)
	fs := cmd.Flags()
	fs.BoolVar(&flags.accessible, "accessible", false, "Plain prompts instead of the full-screen form")
	fs.BoolVar(&flags.run, "run", false, "Send the request after printing the command")
	return cmd
}
