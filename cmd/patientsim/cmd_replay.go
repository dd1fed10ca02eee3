package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"patientsim/internal/session"
	"patientsim/internal/types"
)

var replayParallel int

// replayCmd runs recorded generations back through the engine
var replayCmd = &cobra.Command{
	Use:   "replay [transcript files...]",
	Short: "Replay recorded generations through the engine offline",
	Long: `Feeds recorded caregiver inputs and raw generation output through the
turn pipeline without calling a generation service, then prints one
summary per file. Each file is a YAML (or JSON) document:

  turns:
    - input: "Good morning, how did you sleep?"
      raw: '{"responses": ["Not great"], "classification_label": "NORMAL"}'

Files are replayed concurrently, each in its own session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVarP(&replayParallel, "parallel", "p", 4, "Files replayed at once")
}

// replayFile is the on-disk transcript format.
type replayFile struct {
	Turns []replayTurn `yaml:"turns"`
}

type replayTurn struct {
	Input  string `yaml:"input"`
	Raw    string `yaml:"raw"`
	Failed bool   `yaml:"failed,omitempty"` // the generation call itself failed
}

// replaySummary is printed per file.
type replaySummary struct {
	File         string              `json:"file"`
	Turns        int                 `json:"turns"`
	Recovered    int                 `json:"recovered"`
	ParseMethods map[string]int      `json:"parse_methods"`
	FinalState   types.DialogueState `json:"final_state"`
	Results      []types.TurnResult  `json:"results,omitempty"`
	Session      session.Snapshot    `json:"session"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	opts, err := cfg.OrchestratorOptions()
	if err != nil {
		return err
	}
	orch := session.NewOrchestrator(opts)

	var (
		mu        sync.Mutex
		summaries []replaySummary
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	if replayParallel > 0 {
		g.SetLimit(replayParallel)
	}
	for _, path := range args {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum, err := replayOne(orch, path)
			if err != nil {
				return err
			}
			mu.Lock()
			summaries = append(summaries, sum)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].File < summaries[j].File })
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, s := range summaries {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

func replayOne(orch *session.Orchestrator, path string) (replaySummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return replaySummary{}, err
	}
	var file replayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return replaySummary{}, fmt.Errorf("%s: %w", path, err)
	}

	st := orch.NewState(filepath.Base(path))
	sum := replaySummary{File: path, ParseMethods: make(map[string]int)}
	for _, t := range file.Turns {
		var turn types.TurnResult
		if t.Failed {
			turn = orch.ProcessGenerationFailure(st, t.Input, fmt.Errorf("recorded generation failure"))
		} else {
			turn = orch.ProcessTurn(st, t.Input, t.Raw)
		}
		sum.Turns++
		sum.ParseMethods[turn.ParseMethod]++
		if turn.RecoveryApplied {
			sum.Recovered++
		}
		if verbose {
			sum.Results = append(sum.Results, turn)
		}
	}
	sum.FinalState = st.DialogueState()
	sum.Session = st.Snapshot()

	logger.Debug("Replayed transcript",
		zap.String("file", path),
		zap.Int("turns", sum.Turns),
		zap.Int("recovered", sum.Recovered))
	return sum, nil
}
