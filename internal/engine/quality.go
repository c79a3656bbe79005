// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"github.com/kairos-ai/kairos/internal/memory"
)

// Quality bands for the categorical tag.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// implementationBonus grades how well-formed a step is, independent of the
// run outcome. Richer steps (tags, explicit proof, substantial body) earn a
// small bonus that feeds into the attested quality_bonus.
func implementationBonus(step *memory.Step) float64 {
	bonus := 0.0
	if step.ProofDef != nil {
		bonus += 0.1
	}
	if len(step.Tags) >= 3 {
		bonus += 0.1
	}
	if len(step.Body()) >= 200 {
		bonus += 0.1
	}
	return bonus
}

// scoreStep recomputes a step's quality score from its counters after an
// attestation. The score is a smoothed success ratio in [0,1], nudged by the
// same structural signals as the bonus.
func scoreStep(q *memory.Quality, step *memory.Step) (float64, string) {
	// Laplace-smoothed so a single rating never pins the score to 0 or 1.
	score := (float64(q.SuccessCount) + 1) / (float64(q.SuccessCount+q.FailureCount) + 2)
	score += implementationBonus(step) * 0.2
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, qualityBand(score)
}

func qualityBand(score float64) string {
	switch {
	case score >= 0.8:
		return QualityExcellent
	case score >= 0.6:
		return QualityGood
	case score >= 0.4:
		return QualityFair
	default:
		return QualityPoor
	}
}
