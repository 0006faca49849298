// Package reconcile turns the pair of per-dataset fetch outcomes into the
// joint ingest decision.
package reconcile

import (
	"time"

	"github.com/evescope/activity-ingest/internal/httpdate"
	"github.com/evescope/activity-ingest/internal/models"
)

// Margin is added to the latest server expiry when computing the next
// eligible run. It absorbs clock skew and keeps the gate strictly past the
// expiry instant.
const Margin = 60 * time.Second

// Changed reports whether a dataset outcome represents genuinely new
// content relative to its prior state. A 200 that re-serves the stored
// validator is not a change.
func Changed(outcome *models.FetchOutcome, prior models.EndpointState) bool {
	if outcome == nil || outcome.Status != models.OutcomeFresh {
		return false
	}
	return prior.Validator == "" || outcome.Validator != prior.Validator
}

// Decide applies the joint policy: ingest only when every tracked dataset
// changed in this run. The two datasets share a snapshot cadence, so a run
// where only one moved is a mismatched join and waits one more cycle.
//
// The next eligible run is the latest effective expiry across datasets plus
// Margin. A dataset that sent no Expires this run falls back to its stored
// expiry, then to now.
func Decide(outcomes map[models.Dataset]*models.FetchOutcome, prior map[models.Dataset]models.EndpointState, now time.Time) models.IngestDecision {
	decision := models.IngestDecision{ShouldIngest: true}

	latest := now
	for _, d := range models.Datasets {
		outcome := outcomes[d]
		if !Changed(outcome, prior[d]) {
			decision.ShouldIngest = false
		}

		expiry := effectiveExpiry(outcome, prior[d], now)
		if httpdate.Epoch(expiry) > httpdate.Epoch(latest) {
			latest = expiry
		}
	}

	decision.NextEligibleRunAt = latest.Add(Margin)
	return decision
}

func effectiveExpiry(outcome *models.FetchOutcome, prior models.EndpointState, now time.Time) time.Time {
	if outcome != nil && outcome.ExpiresAt != nil {
		return *outcome.ExpiresAt
	}
	if prior.ExpiresAt != nil {
		return *prior.ExpiresAt
	}
	return now
}
