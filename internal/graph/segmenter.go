// Package graph: segmentation of the routing graph into linear runs.
package graph

import (
	"log/slog"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// workItem is one pending linear run: the anchor/condition under which the
// run becomes selectable, and the path accumulated so far.
type workItem struct {
	anchor    int
	condition string
	path      []int
}

// Split partitions the questionnaire into ordered, size-bounded linear
// segments. Branch points and maxPerSegment are the only segmentation
// boundaries, so sequential questions batch into as few generation calls as
// possible. Runs longer than maxPerSegment are sliced into consecutive
// chunks; each follow-on chunk is anchored at the last id of the previous
// chunk with an empty condition label.
func (g *QuestionGraph) Split(maxPerSegment int) []models.Segment {
	if maxPerSegment <= 0 {
		maxPerSegment = models.DefaultMaxQuestionsPerSegment
	}

	var segments []models.Segment
	starts := g.entryNodes()
	if len(starts) == 0 {
		return segments
	}

	queue := make([]workItem, 0, len(starts))
	// Guards against re-enqueueing an identical single-node start when
	// several branches target the same question.
	seen := make(map[int]bool, len(starts))
	for _, start := range starts {
		queue = append(queue, workItem{anchor: start, condition: "", path: []int{start}})
		seen[start] = true
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		path := item.path

		for {
			current := path[len(path)-1]
			question, _ := g.questionnaire.Get(current)
			logic := question.JumpLogic

			if logic.IsBranchPoint() {
				// The branch point closes the current run; each
				// condition opens a new one anchored here.
				segments = appendSegment(segments, item.anchor, item.condition, path, maxPerSegment)
				for _, label := range conditionLabels(logic) {
					target := logic[label]
					if target.End || seen[target.ID] {
						continue
					}
					queue = append(queue, workItem{anchor: current, condition: label, path: []int{target.ID}})
					seen[target.ID] = true
				}
				break
			}

			if next, ok := logic[models.JumpKeyNext]; ok {
				if next.End {
					segments = appendSegment(segments, item.anchor, item.condition, path, maxPerSegment)
					break
				}
				path = append(path, next.ID)
				continue
			}

			// No jump logic at all: last question or a dangling target.
			segments = appendSegment(segments, item.anchor, item.condition, path, maxPerSegment)
			break
		}
	}

	slog.Debug("Questionnaire segmented", "segments", len(segments), "max_per_segment", maxPerSegment)
	return segments
}

// appendSegment finalizes one linear run, slicing it into maxPerSegment-sized
// chunks when needed. The first chunk keeps the original anchor and
// condition; every later chunk continues unconditionally from the last id of
// the previous chunk.
func appendSegment(segments []models.Segment, anchor int, condition string, path []int, maxPerSegment int) []models.Segment {
	if len(path) <= maxPerSegment {
		questions := make([]int, len(path))
		copy(questions, path)
		return append(segments, models.Segment{Anchor: anchor, Condition: condition, Questions: questions})
	}

	for i := 0; i < len(path); i += maxPerSegment {
		end := i + maxPerSegment
		if end > len(path) {
			end = len(path)
		}
		chunk := make([]int, end-i)
		copy(chunk, path[i:end])
		if i == 0 {
			segments = append(segments, models.Segment{Anchor: anchor, Condition: condition, Questions: chunk})
		} else {
			segments = append(segments, models.Segment{Anchor: path[i-1], Condition: "", Questions: chunk})
		}
	}
	return segments
}

// BuildSegments compiles the questionnaire's routing graph and returns its
// segment list together with the acyclicity verdict. When the graph is
// cyclic, no segments are produced and the questionnaire must be rejected
// before execution.
func BuildSegments(qn models.Questionnaire, maxPerSegment int) ([]models.Segment, bool) {
	g := Build(qn)
	if !g.IsAcyclic() {
		slog.Error("Questionnaire rejected: jump logic is cyclic")
		return nil, false
	}
	return g.Split(maxPerSegment), true
}
