// Package flow: per-respondent traversal states.
package flow

// respondentState is the phase of one respondent's traversal through the
// segmented questionnaire.
type respondentState int

const (
	// stateStart initializes the respondent's record and question pointer.
	stateStart respondentState = iota
	// stateSelectSegment looks up and resolves the next segment.
	stateSelectSegment
	// stateAwaitResponse issues the generation call for the selected segment.
	stateAwaitResponse
	// stateMerge folds the parsed response into the respondent's record and
	// decides whether traversal continues.
	stateMerge
	// stateDone finalizes the respondent's record.
	stateDone
)
