package config

import (
	"fmt"

	"patientsim/internal/articulation"
	"patientsim/internal/consistency"
	"patientsim/internal/recovery"
	"patientsim/internal/session"
	"patientsim/internal/types"
)

// OrchestratorOptions builds the session pipeline configuration from the
// engine section. The reply bank file, if set, is read and validated here.
func (c *Config) OrchestratorOptions() (session.Options, error) {
	e := c.Engine
	if err := e.Validate(); err != nil {
		return session.Options{}, err
	}

	weights := make(consistency.Weights, len(e.ConsistencyWeights))
	for kind, w := range e.ConsistencyWeights {
		k := consistency.Kind(kind)
		known := false
		for _, existing := range consistency.AllKinds {
			if existing == k {
				known = true
				break
			}
		}
		if !known {
			return session.Options{}, fmt.Errorf("engine.consistency_weights: unknown kind %q", kind)
		}
		weights[k] = w
	}

	rec := recovery.Options{ResetKeep: e.ResetKeep}
	if e.ReplyBanks != "" {
		banks, err := recovery.LoadBanksFile(e.ReplyBanks)
		if err != nil {
			return session.Options{}, fmt.Errorf("engine.reply_banks: %w", err)
		}
		rec.Banks = banks
	}

	risk, _ := types.ParseDegradationRisk(e.RecoveryRisk)
	severity, _ := types.ParseSeverity(e.RepairSeverity)

	return session.Options{
		Normalizer: articulation.Options{
			MaxResponses:      e.MaxResponses,
			DefaultConfidence: e.DefaultConfidence,
		},
		ConsistencyWeights: weights,
		Degradation:        e.Degradation,
		Recovery:           rec,
		RecoveryRisk:       risk,
		RepairSeverity:     severity,
		CharacterName:      c.Character.Name,
		HistoryWindow:      e.HistoryWindow,
		QualityWindow:      e.QualityWindow,
	}, nil
}
