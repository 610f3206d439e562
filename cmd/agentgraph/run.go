package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/service"
)

// errWorkflowFailed makes the process exit non-zero after printing a
// failed result.
var errWorkflowFailed = errors.New("workflow did not succeed")

func newRunCmd(c *cli) *cobra.Command {
	var (
		inputPath     string
		correlationID string
	)
	cmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Execute an agent once and print its result",
		Long: `Execute an agent and print the WorkflowResult as JSON.

The input is read from --input (a file, or - for stdin). Reusing a
--correlation-id resumes or returns the earlier run of that thread.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd.InOrStdin(), inputPath)
			if err != nil {
				return err
			}

			rt, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.svc.Execute(cmd.Context(), service.Request{
				AgentID:       args[0],
				Input:         input,
				CorrelationID: correlationID,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%w: %s", errWorkflowFailed, res.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "input JSON file, or - for stdin")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation ID (default: random)")
	return cmd
}

func readInput(stdin io.Reader, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return json.RawMessage("{}"), nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("input %s is not valid JSON", path)
	}
	return data, nil
}
