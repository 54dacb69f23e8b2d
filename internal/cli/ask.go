package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/domain"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		topK     int
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			if topK <= 0 {
				topK = svc.TopK()
			}
			q := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if noStream {
				ans, err := svc.Answerer.Answer(cmd.Context(), q, topK)
				fmt.Fprintln(out, ans.Answer)
				printSources(out, ans.Sources)
				return err
			}

			var streamErr error
			for ev := range svc.Answerer.Stream(cmd.Context(), q, topK) {
				switch ev.Type {
				case domain.EventToken:
					fmt.Fprint(out, ev.Token)
				case domain.EventSources:
					fmt.Fprintln(out)
					printSources(out, ev.Sources)
				case domain.EventError:
					fmt.Fprintln(out)
					streamErr = ev.Err
				}
			}
			if streamErr == nil && cmd.Context().Err() != nil {
				streamErr = cmd.Context().Err()
			}
			return streamErr
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to retrieve (defaults to answer.top_k)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the whole answer instead of streaming it")
	return cmd
}

func printSources(w io.Writer, sources []domain.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range sources {
		fmt.Fprintf(w, "  [%d] %s: %s\n", s.Ref, s.Title, s.Snippet)
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the passages most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			if topK <= 0 {
				topK = svc.TopK()
			}
			results, err := svc.Store.SimilaritySearch(cmd.Context(), strings.Join(args, " "), topK)
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing indexed yet. Run `docrag ingest` first.")
				return nil
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, r := range results {
				fmt.Fprintf(out, "%d. score=%.3f  %s#%d\n", i+1, r.Score, r.Record.Metadata.Source, r.Record.Metadata.ChunkIndex)
				fmt.Fprintf(out, "   %s\n", oneLine(r.Record.Text, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to show (defaults to answer.top_k)")
	return cmd
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
