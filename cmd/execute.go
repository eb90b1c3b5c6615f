package cmd

import (
	"github.com/spf13/cobra"
	"github.com/visionml/trainer/cmd/start"
	"github.com/visionml/trainer/cmd/submit"
)

var cmds = []*cobra.Command{
	start.Cmd,
	submit.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:          "trainer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
