// Package models defines the core data structures for SmartAgentSurvey.
//
// It includes the parsed questionnaire types, routing segments, respondent
// records, and shared API response types used across modules.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// QuestionKind identifies how a question is answered.
type QuestionKind string

const (
	// QuestionKindSingleChoice expects exactly one of the listed options.
	QuestionKindSingleChoice QuestionKind = "single_choice"
	// QuestionKindMultipleChoice expects one or more of the listed options.
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
	// QuestionKindRating expects a numeric value on the question's scale.
	QuestionKindRating QuestionKind = "rating"
	// QuestionKindTextResponse expects free text.
	QuestionKindTextResponse QuestionKind = "text_response"
	// QuestionKindTableRating expects one rating per table dimension.
	QuestionKindTableRating QuestionKind = "table_rating"
	// QuestionKindImageDescription expects free text describing an image.
	QuestionKindImageDescription QuestionKind = "image_description"
)

// Jump logic constants.
const (
	// JumpKeyNext is the jump-logic key for the unconditional continuation.
	JumpKeyNext = "next"
	// EndMarker is the literal jump target that terminates the questionnaire.
	EndMarker = "end"
)

// DefaultMaxQuestionsPerSegment bounds how many questions one generation call covers.
const DefaultMaxQuestionsPerSegment = 20

// Error variables for better error handling and testability
var (
	ErrCyclicQuestionnaire = errors.New("questionnaire jump logic contains a cycle")
	ErrEmptyQuestionnaire  = errors.New("questionnaire has no questions")
	ErrNoSegments          = errors.New("questionnaire produced no segments")
	ErrNoRespondents       = errors.New("no respondents provided")
	ErrInvalidQuestionKind = errors.New("invalid question kind")
	ErrMissingOptions      = errors.New("options are required for choice questions")
	ErrMissingScale        = errors.New("scale is required for rating questions")
	ErrMissingTable        = errors.New("table structure is required for table rating questions")
)

// IsValidQuestionKind checks if the given question kind is supported.
func IsValidQuestionKind(k QuestionKind) bool {
	switch k {
	case QuestionKindSingleChoice, QuestionKindMultipleChoice, QuestionKindRating,
		QuestionKindTextResponse, QuestionKindTableRating, QuestionKindImageDescription:
		return true
	default:
		return false
	}
}

// Scale is the (low, high, step) triple of a rating question. It is
// transmitted as a three-element JSON array.
type Scale struct {
	Low  float64
	High float64
	Step float64
}

// MarshalJSON encodes the scale as [low, high, step].
func (s Scale) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{s.Low, s.High, s.Step})
}

// UnmarshalJSON decodes a scale from [low, high, step].
func (s *Scale) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("scale must be a numeric array: %w", err)
	}
	if len(arr) != 3 {
		return fmt.Errorf("scale must have exactly 3 elements, got %d", len(arr))
	}
	s.Low, s.High, s.Step = arr[0], arr[1], arr[2]
	return nil
}

// TableStructure describes a table-rating question: one rating per dimension,
// each chosen from the shared option list.
type TableStructure struct {
	Options    []string `json:"options"`
	Dimensions []string `json:"dimensions"`
}

// JumpTarget is the destination of one jump-logic entry: a question id, or the
// end of the questionnaire (the literal "end" marker or null).
type JumpTarget struct {
	ID  int
	End bool
}

// MarshalJSON encodes an end target as null and any other target as its id.
func (t JumpTarget) MarshalJSON() ([]byte, error) {
	if t.End {
		return []byte("null"), nil
	}
	return json.Marshal(t.ID)
}

// UnmarshalJSON accepts a numeric id, a numeric string, the literal "end"
// (case-insensitive), or null.
func (t *JumpTarget) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "null" {
		t.End = true
		return nil
	}
	var id int
	if err := json.Unmarshal(trimmed, &id); err == nil {
		t.ID = id
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return fmt.Errorf("invalid jump target %s", string(trimmed))
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, EndMarker) || s == "" {
		t.End = true
		return nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid jump target %q", s)
	}
	t.ID = id
	return nil
}

// JumpLogic maps either the "next" key or condition labels to jump targets.
// More than one entry marks a branch point.
type JumpLogic map[string]JumpTarget

// IsBranchPoint reports whether the jump logic has multiple targets.
func (j JumpLogic) IsBranchPoint() bool {
	return len(j) > 1
}

// Question is one parsed questionnaire entry.
type Question struct {
	Text           string          `json:"question"`
	Kind           QuestionKind    `json:"type"`
	Options        []string        `json:"options,omitempty"`
	Scale          *Scale          `json:"scale,omitempty"`
	TableStructure *TableStructure `json:"table_structure,omitempty"`
	JumpLogic      JumpLogic       `json:"jump_logic,omitempty"`
	FewShotContent string          `json:"few_shot_content,omitempty"`
}

// Validate checks that the question carries the attributes its kind requires.
func (q *Question) Validate() error {
	if !IsValidQuestionKind(q.Kind) {
		return ErrInvalidQuestionKind
	}
	switch q.Kind {
	case QuestionKindSingleChoice:
		if len(q.Options) == 0 {
			return ErrMissingOptions
		}
	case QuestionKindMultipleChoice:
		if len(q.Options) == 0 && q.TableStructure == nil {
			return ErrMissingOptions
		}
	case QuestionKindRating:
		if q.Scale == nil {
			return ErrMissingScale
		}
	case QuestionKindTableRating:
		if q.TableStructure == nil && len(q.Options) == 0 {
			return ErrMissingTable
		}
	}
	return nil
}

// Questionnaire maps question-id strings to parsed questions. Question ids are
// positive integers transmitted as string keys.
type Questionnaire map[string]Question

// Size returns the number of questions.
func (qn Questionnaire) Size() int {
	return len(qn)
}

// Get looks up a question by numeric id.
func (qn Questionnaire) Get(id int) (Question, bool) {
	q, ok := qn[strconv.Itoa(id)]
	return q, ok
}

// Validate checks every question in the questionnaire.
func (qn Questionnaire) Validate() error {
	if len(qn) == 0 {
		return ErrEmptyQuestionnaire
	}
	for key, q := range qn {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", key, err)
		}
	}
	return nil
}

// Segment is a contiguous run of questions answered in one generation call.
// Anchor is the question id from which the segment becomes selectable,
// Condition is the branch label that must match the respondent's answer at the
// anchor (empty for the sole or unconditional continuation), and Questions is
// the ordered id run. Segments sharing an anchor carry mutually distinct
// condition labels.
type Segment struct {
	Anchor    int    `json:"anchor"`
	Condition string `json:"condition"`
	Questions []int  `json:"questions"`
}

// Last returns the final question id of the segment.
func (s Segment) Last() int {
	return s.Questions[len(s.Questions)-1]
}

// Respondent is one simulated survey-taker. Values holds the sampled
// dimension values; Profile, when set, is a preformatted description used
// verbatim (upload mode).
type Respondent struct {
	ID      int      `json:"id"`
	Values  []string `json:"values,omitempty"`
	Profile string   `json:"profile,omitempty"`
	Weight  int      `json:"weight,omitempty"`
}

// AnswerRecord accumulates a respondent's answers keyed by question-id string.
// Values are strings, lists, or nested {reason, answer} objects as returned by
// the model. Persisted JSON orders keys by string comparison, so "10" sorts
// before "2"; downstream consumers depend on that order.
type AnswerRecord = map[string]any

// RunResult is the outcome of one execution run: per-respondent answers and
// ordered error lists, keyed by respondent-id string.
type RunResult struct {
	Index   int                     `json:"index"`
	Answers map[string]AnswerRecord `json:"answers"`
	Errors  map[string][]string     `json:"errors"`
	Stopped bool                    `json:"stopped"`
}

// MatchTier tags how a branch condition matched the respondent's answer.
type MatchTier int

const (
	// MatchExact means the normalized answer equaled a condition label.
	MatchExact MatchTier = iota
	// MatchPartial means answer and label matched by substring containment.
	MatchPartial
	// MatchNone means no label matched and the default candidate was used.
	MatchNone
)

// String returns a human-readable tier name.
func (t MatchTier) String() string {
	switch t {
	case MatchExact:
		return "exact"
	case MatchPartial:
		return "partial"
	case MatchNone:
		return "none"
	default:
		return fmt.Sprintf("MatchTier(%d)", int(t))
	}
}
