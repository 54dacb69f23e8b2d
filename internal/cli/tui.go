package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docrag/internal/tui"
)

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui [path...]",
		Short: "Ask questions interactively",
		Long:  `Optionally ingest the given paths, then open an interactive question prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if _, err := svc.Pipeline.IngestPaths(cmd.Context(), args); err != nil {
					return err
				}
			}
			n, err := svc.Store.Count(cmd.Context())
			if err != nil {
				return err
			}
			summary := fmt.Sprintf("%d passages indexed · model %s · embedder %s", n, svc.Model.Name(), svc.Embedder.Name())
			p := tea.NewProgram(tui.New(svc.Answerer, svc.TopK(), summary),
				tea.WithContext(cmd.Context()), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}
