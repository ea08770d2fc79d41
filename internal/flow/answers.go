// Package flow: answer accumulation for respondent records.
package flow

import (
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// Merge returns the key-wise union of existing and incoming, with incoming
// overwriting existing on conflicting keys. Neither input is mutated, and
// merging the same incoming map twice yields the same result as once.
//
// Persisted output orders keys by string comparison (encoding/json sorts map
// keys byte-wise), which places "10" before "2". That ordering is a
// compatibility contract with downstream consumers, not a bug to fix.
func Merge(existing, incoming models.AnswerRecord) models.AnswerRecord {
	merged := make(models.AnswerRecord, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// MergeRun folds one respondent's finalized record into the run-level answer
// map under the respondent-id key, with the same right-biased union
// semantics as Merge.
func MergeRun(existing map[string]models.AnswerRecord, id string, record models.AnswerRecord) map[string]models.AnswerRecord {
	merged := make(map[string]models.AnswerRecord, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged[id] = record
	return merged
}
