package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Several useful generators",
	Long:  `Generators for sled's man pages and shell completion scripts`,
}

var CompletionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish]",
	Short:     "Generate a shell completion script",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish"},

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		switch args[0] {
		case "zsh":
			return cmd.Root().GenZshCompletion(out)

		case "fish":
			return cmd.Root().GenFishCompletion(out, true)

		default:
			return cmd.Root().GenBashCompletion(out)
		}
	},
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
	RootCmd.AddCommand(CompletionCmd)
}
