package session

import (
	"errors"
	"fmt"
	"strings"

	"patientsim/internal/articulation"
	"patientsim/internal/consistency"
	"patientsim/internal/degradation"
	"patientsim/internal/dialogue"
	"patientsim/internal/logging"
	"patientsim/internal/recovery"
	"patientsim/internal/types"
)

var (
	// ErrNoTurn is returned when a selection is made before any turn.
	ErrNoTurn = errors.New("session has no completed turn")

	// ErrInvalidSelection is returned for an out-of-range candidate index.
	ErrInvalidSelection = errors.New("invalid response selection")
)

// Options configures an Orchestrator. Zero values take the defaults.
type Options struct {
	Normalizer         articulation.Options
	ConsistencyWeights consistency.Weights
	Degradation        degradation.Options
	Recovery           recovery.Options

	// RecoveryRisk is the degradation risk at which the reply set is
	// replaced wholesale and a context reset is applied.
	RecoveryRisk types.DegradationRisk
	// RepairSeverity is the consistency severity at which offending
	// candidates are dropped.
	RepairSeverity types.Severity

	CharacterName string
	HistoryWindow int
	QualityWindow int
}

// DefaultOptions returns the stock pipeline configuration.
func DefaultOptions() Options {
	return Options{
		Normalizer:     articulation.DefaultOptions(),
		Degradation:    degradation.DefaultOptions(),
		Recovery:       recovery.Options{ResetKeep: recovery.DefaultResetKeep},
		RecoveryRisk:   types.RiskCritical,
		RepairSeverity: types.SeverityHigh,
		HistoryWindow:  types.DefaultHistoryWindow,
		QualityWindow:  degradation.DefaultWindowSize,
	}
}

// Orchestrator runs the turn pipeline. It holds only configuration and
// stateless components, so one instance serves every session.
type Orchestrator struct {
	opts       Options
	normalizer *articulation.Normalizer
	checker    *consistency.Checker
	monitor    *degradation.Monitor
	recovery   *recovery.Engine
}

// NewOrchestrator wires the pipeline components.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.RecoveryRisk.Rank() == 0 {
		opts.RecoveryRisk = types.RiskCritical
	}
	if opts.RepairSeverity.Rank() == 0 {
		opts.RepairSeverity = types.SeverityHigh
	}
	if opts.Degradation == (degradation.Options{}) {
		opts.Degradation = degradation.DefaultOptions()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = types.DefaultHistoryWindow
	}
	if opts.QualityWindow <= 0 {
		opts.QualityWindow = degradation.DefaultWindowSize
	}

	logging.Session("orchestrator ready (recover at risk>=%s, repair at severity>=%s)", opts.RecoveryRisk, opts.RepairSeverity)
	return &Orchestrator{
		opts:       opts,
		normalizer: articulation.NewNormalizer(opts.Normalizer),
		checker:    consistency.NewChecker(opts.ConsistencyWeights),
		monitor:    degradation.NewMonitor(opts.Degradation),
		recovery:   recovery.NewEngine(opts.Recovery),
	}
}

// NewState creates a session sized by this orchestrator's windows.
func (o *Orchestrator) NewState(id string) *State {
	return NewState(id, o.opts.HistoryWindow, o.opts.QualityWindow)
}

// NormalizerStats reports how raw generations have been parsed so far.
func (o *Orchestrator) NormalizerStats() articulation.Stats {
	return o.normalizer.Stats()
}

// ProcessTurn runs one caregiver turn over the raw generation text and
// commits the outcome to state. It never fails: every component error is
// recovered locally and the result always carries at least one reply.
func (o *Orchestrator) ProcessTurn(state *State, input, raw string) types.TurnResult {
	timer := logging.StartTimer(logging.CategorySession, "ProcessTurn")
	defer timer.Stop()

	d := state.draft()
	d.round++

	res, err := o.normalizer.Normalize(raw)
	if err != nil {
		return o.finishFailed(state, d, input, recovery.Trigger{Kind: recovery.TriggerUnparseable, Detail: err.Error()})
	}
	turn := res.Turn
	turn.Round = d.round

	// Consistency and degradation both look at the model's own output.
	cons := o.checker.Check(turn.Responses, d.history)
	quality := o.monitor.Assess(turn, d.round, degradation.AssessContext{
		History:       d.history,
		CharacterName: o.opts.CharacterName,
	})
	turn.Consistency = cons.Summary()
	turn.Risk = quality.Risk
	turn.QualityScore = quality.Overall
	d.quality.Push(quality)

	var reset *recovery.ContextResetPlan
	label := turn.ClassificationLabel

	switch {
	case quality.Risk.AtLeast(o.opts.RecoveryRisk):
		trigger := recovery.Trigger{Kind: recovery.TriggerDegradation, Risk: quality.Risk}
		reset = o.recoverTurn(&turn, input, trigger)
		label = types.DefaultClassificationLabel
	case cons.Severity.AtLeast(o.opts.RepairSeverity):
		previous, _ := d.history.Last(types.SpeakerPatient)
		kept, dropped, ok := o.recovery.Repair(turn.Responses, previous.Text)
		if ok {
			turn.Responses = kept
			turn.RecoveryApplied = true
			turn.RecoveryReason = fmt.Sprintf("repaired: dropped %d candidate(s) for %s", dropped, strings.Join(cons.Kinds(), ", "))
			break
		}
		trigger := recovery.Trigger{Kind: recovery.TriggerConsistency, Consistency: &cons}
		reset = o.recoverTurn(&turn, input, trigger)
		label = types.DefaultClassificationLabel
	}

	o.transition(d, &turn, label)
	o.record(d, input, turn, reset)
	state.commit(d)

	logging.SessionDebug("session %s round %d: method=%s risk=%s consistency=%.2f state=%s recovered=%v",
		state.ID, turn.Round, turn.ParseMethod, turn.Risk, cons.Score, turn.State, turn.RecoveryApplied)
	return turn
}

// ProcessGenerationFailure handles a turn where the generation call itself
// failed or timed out. It is treated like unparseable output.
func (o *Orchestrator) ProcessGenerationFailure(state *State, input string, cause error) types.TurnResult {
	d := state.draft()
	d.round++
	detail := "generation failed"
	if cause != nil {
		detail = cause.Error()
	}
	return o.finishFailed(state, d, input, recovery.Trigger{Kind: recovery.TriggerGenerationFailure, Detail: detail})
}

// finishFailed completes a turn that produced no usable candidates.
func (o *Orchestrator) finishFailed(state *State, d *draft, input string, trigger recovery.Trigger) types.TurnResult {
	turn := types.TurnResult{
		Reasoning:           types.DefaultReasoning,
		ClassificationLabel: types.DefaultClassificationLabel,
		Confidence:          o.normalizerConfidence(),
		State:               types.DefaultState,
		ParseMethod:         string(articulation.ParseFailed),
		Round:               d.round,
	}

	// An empty reply set scores as degraded; the window keeps that record.
	quality := o.monitor.Assess(turn, d.round, degradation.AssessContext{History: d.history, CharacterName: o.opts.CharacterName})
	d.quality.Push(quality)
	turn.Risk = quality.Risk
	turn.QualityScore = quality.Overall

	reset := o.recoverTurn(&turn, input, trigger)
	turn.Consistency = o.checker.Check(turn.Responses, d.history).Summary()

	o.transition(d, &turn, turn.ClassificationLabel)
	o.record(d, input, turn, reset)
	state.commit(d)
	return turn
}

// recoverTurn replaces the reply set with fallback lines and returns the
// reset plan to apply once the turn is recorded.
func (o *Orchestrator) recoverTurn(turn *types.TurnResult, input string, trigger recovery.Trigger) *recovery.ContextResetPlan {
	turn.Responses = o.recovery.Recover(input, trigger, turn.Responses...)
	turn.RecoveryApplied = true
	turn.RecoveryReason = trigger.Reason()
	plan := o.recovery.ResetPlan(trigger.Reason())
	return &plan
}

func (o *Orchestrator) transition(d *draft, turn *types.TurnResult, label string) {
	tr := d.machine.Transition(label, turn.ContextLabel)
	if errors.Is(tr.Err, dialogue.ErrTerminated) {
		logging.Get(logging.CategorySession).Warn("transition refused: %v", tr.Err)
	}
	turn.State = tr.To
	if turn.ContextLabel != "" {
		d.context = turn.ContextLabel
	}
}

// record appends the caregiver line and the provisional patient line, then
// applies any reset plan.
func (o *Orchestrator) record(d *draft, input string, turn types.TurnResult, reset *recovery.ContextResetPlan) {
	if strings.TrimSpace(input) != "" {
		d.history.Append(types.Utterance{Speaker: types.SpeakerCaregiver, Text: input})
	}
	if primary := turn.Primary(); primary != "" {
		d.history.Append(types.Utterance{Speaker: types.SpeakerPatient, Text: primary})
	}
	if reset != nil {
		before := d.history.Len()
		reset.Apply(d.history)
		logging.RecoveryWarn("context reset: kept %d of %d history entries (%s)", d.history.Len(), before, reset.Reason)
	}
	last := turn.WithResponses(turn.Responses)
	d.lastTurn = &last
}

// SelectResponse replaces the provisional patient line of the last turn
// with the candidate the trainee picked.
func (o *Orchestrator) SelectResponse(state *State, index int) (string, error) {
	last, ok := state.LastTurn()
	if !ok {
		return "", ErrNoTurn
	}
	if index < 0 || index >= len(last.Responses) {
		return "", fmt.Errorf("%w: index %d of %d", ErrInvalidSelection, index, len(last.Responses))
	}
	chosen := last.Responses[index]
	if !state.History.ReplaceLast(types.SpeakerPatient, chosen) {
		state.History.Append(types.Utterance{Speaker: types.SpeakerPatient, Text: chosen})
	}
	logging.SessionDebug("session %s selected candidate %d", state.ID, index)
	return chosen, nil
}

func (o *Orchestrator) normalizerConfidence() float64 {
	if c := o.opts.Normalizer.DefaultConfidence; c > 0 && c <= 1 {
		return c
	}
	return types.DefaultConfidence
}
