// Package models: API request types.
package models

import "encoding/json"

// ExecutionRequest is the body of a start-execution API call. It carries the
// questionnaire, the respondent pool, and batch settings.
type ExecutionRequest struct {
	Questionnaire          Questionnaire   `json:"questionnaire"`
	ExecutionOrder         string          `json:"execution_order,omitempty"`
	Respondents            []Respondent    `json:"respondents"`
	Executions             int             `json:"executions,omitempty"`
	Segmented              bool            `json:"segmented"`
	MaxQuestionsPerSegment int             `json:"max_questions_per_segment,omitempty"`
	SampleDimensions       json.RawMessage `json:"sample_dimensions,omitempty"`
}
