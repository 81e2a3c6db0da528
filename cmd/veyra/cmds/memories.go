package cmds

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/veyra/pkg/memory"
)

func NewMemoriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "Show or delete the memories the assistant keeps about you",
	}
	cmd.AddCommand(newListMemoriesCommand(), newDeleteMemoriesCommand())
	return cmd
}

func newListMemoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the saved memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(cmd)
			if err != nil {
				return err
			}
			list, err := NewApp(s).Memories.List(cmd.Context())
			if err != nil {
				return err
			}
			printMemories(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func newDeleteMemoriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every saved memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(cmd)
			if err != nil {
				return err
			}
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
					"Delete all memories? This cannot be undone. [y/n]")
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := NewApp(s).Memories.DeleteAll(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "All memories deleted.")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func confirm(in io.Reader, out io.Writer, query string) (bool, error) {
	ui := &input.UI{
		Writer: out,
		Reader: in,
	}
	answer, err := ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	return answer == "y" || answer == "Y", nil
}

func printMemories(out io.Writer, list []memory.Memory) {
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "no memories")
		return
	}
	for _, m := range list {
		if !m.CreatedAt.IsZero() {
			_, _ = fmt.Fprintf(out, "- %s (%s)\n", m.Memory, m.CreatedAt.Format("Jan 2, 2006"))
			continue
		}
		_, _ = fmt.Fprintf(out, "- %s\n", m.Memory)
	}
}
