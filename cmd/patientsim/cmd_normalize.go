package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"patientsim/internal/articulation"
	"patientsim/internal/types"
)

// normalizeCmd shows how one raw generation is parsed
var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Normalize one raw generation and print the result",
	Long: `Reads raw generation text from the file (or stdin when omitted) and
prints the normalized turn with the parse method that produced it.
Exits non-zero when no reply candidate can be recovered.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNormalize,
}

type normalizeOutput struct {
	Method   articulation.ParseMethod `json:"parse_method"`
	Turn     *types.TurnResult        `json:"turn,omitempty"`
	Warnings []string                 `json:"warnings,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func runNormalize(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return err
	}

	n := articulation.NewNormalizer(articulation.Options{
		MaxResponses:      cfg.Engine.MaxResponses,
		DefaultConfidence: cfg.Engine.DefaultConfidence,
	})
	res, nerr := n.Normalize(string(data))

	out := normalizeOutput{Method: articulation.ParseFailed}
	if res != nil {
		out.Method = res.Method
		out.Warnings = res.Warnings
	}
	if nerr == nil {
		out.Turn = &res.Turn
	} else {
		out.Error = nerr.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return nerr
}
