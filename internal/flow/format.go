// Package flow: questionnaire rendering for generation prompts.
package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// FormatSingleQuestion renders one question for the generation prompt and
// estimates the token length of its expected answer. Ids with no question
// render as an explicit skip instruction so a dangling jump target never
// silently shifts the response keys.
func FormatSingleQuestion(qn models.Questionnaire, id int, maxTokens int) (string, int) {
	q, ok := qn.Get(id)
	if !ok {
		return fmt.Sprintf("%d. SKIP THIS QUESTION", id), 0
	}

	var kindSuffix, options, extraInfo string
	var outputLength int

	switch q.Kind {
	case models.QuestionKindSingleChoice:
		kindSuffix = " (single choice)"
		options = strings.Join(q.Options, ", ")
		outputLength = len(options) / len(q.Options)
	case models.QuestionKindMultipleChoice:
		if q.TableStructure != nil {
			kindSuffix = " (rating)"
			options, outputLength = formatTable(id, q.TableStructure)
		} else {
			kindSuffix = " (multiple choice)"
			options = strings.Join(q.Options, ", ")
			outputLength = len(options) / 2
		}
	case models.QuestionKindRating:
		kindSuffix = " (rating)"
		extraInfo = fmt.Sprintf("Rate from %s to %s with a step of %s",
			formatScaleValue(q.Scale.Low), formatScaleValue(q.Scale.High), formatScaleValue(q.Scale.Step))
		outputLength = len(formatScaleValue(q.Scale.High)) / 2
	case models.QuestionKindTextResponse, models.QuestionKindImageDescription:
		kindSuffix = " (text)"
		extraInfo = "Present your idea briefly."
		outputLength = maxTokens / 4 * 3
	case models.QuestionKindTableRating:
		kindSuffix = " (rating)"
		if q.TableStructure != nil {
			options, outputLength = formatTable(id, q.TableStructure)
		} else {
			options = strings.Join(q.Options, " ")
			outputLength = len(options) / 2
		}
	}

	parts := []string{fmt.Sprintf("%d. %s%s", id, q.Text, kindSuffix)}
	if options != "" {
		parts = append(parts, options)
	}
	if extraInfo != "" {
		parts = append(parts, extraInfo)
	}
	if q.FewShotContent != "" {
		parts = append(parts, q.FewShotContent)
	}
	return strings.Join(parts, "\n") + "\n", outputLength
}

// formatTable renders table-rating rows as "id-N: dimension - options" and
// estimates one option-sized answer per dimension.
func formatTable(id int, table *models.TableStructure) (string, int) {
	joined := strings.Join(table.Options, ", ")
	lines := make([]string, len(table.Dimensions))
	for i, dim := range table.Dimensions {
		lines[i] = fmt.Sprintf("%d-%d: %s - %s", id, i+1, dim, joined)
	}
	outputLength := 0
	if len(table.Options) > 0 {
		outputLength = len(table.Dimensions) * (len(joined) / len(table.Options))
	}
	return strings.Join(lines, "\n"), outputLength
}

func formatScaleValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatFullQuestionnaire renders every question from id 1 upward for the
// non-segmented mode, returning the text and the summed answer-length
// estimate.
func FormatFullQuestionnaire(qn models.Questionnaire, maxTokens int) (string, int) {
	var sb strings.Builder
	total := 0
	for id := 1; id <= qn.Size(); id++ {
		text, length := FormatSingleQuestion(qn, id, maxTokens)
		sb.WriteString(text)
		sb.WriteString("\n")
		total += length
	}
	return sb.String(), total
}

// FormatQuestionRange renders a segment's question ids in order.
func FormatQuestionRange(qn models.Questionnaire, ids []int, maxTokens int) string {
	var sb strings.Builder
	for _, id := range ids {
		text, _ := FormatSingleQuestion(qn, id, maxTokens)
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}
