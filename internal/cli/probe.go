package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nickigann03/ai-secretary/internal/llm"
	"github.com/nickigann03/ai-secretary/internal/service/probe"
	"github.com/nickigann03/ai-secretary/internal/speech"
)

var errProbeFailed = errors.New("one or more services are unreachable")

func NewProbeCmd(deps *Dependencies) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the speech and language model credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			model, err := llm.New(ctx, deps.Config.MinutesProvider, deps.Config.MinutesProviderConfig())
			if err != nil {
				return err
			}
			report := probe.NewService(speech.NewClient(deps.Config.Speech, nil), model, 0).Run(ctx)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printCheck(out, "Speech (Gladia)", report.Speech)
				printCheck(out, "Minutes ("+model.Provider()+")", report.LLM)
			}
			if !report.OK() {
				return errProbeFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printCheck(w io.Writer, name string, c probe.Check) {
	mark := "ok"
	if c.Status != probe.StatusOK {
		mark = "FAIL"
	}
	fmt.Fprintf(w, "%-24s %-5s %s\n", name, mark, c.Message)
}
