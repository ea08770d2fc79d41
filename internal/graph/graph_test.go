package graph

import (
	"strconv"
	"testing"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// linearQuestionnaire builds n text questions chained by "next", ending at "end".
func linearQuestionnaire(n int) models.Questionnaire {
	qn := make(models.Questionnaire, n)
	for i := 1; i <= n; i++ {
		logic := models.JumpLogic{models.JumpKeyNext: {End: true}}
		if i < n {
			logic = models.JumpLogic{models.JumpKeyNext: {ID: i + 1}}
		}
		qn[strconv.Itoa(i)] = models.Question{Text: "Question", Kind: models.QuestionKindTextResponse, JumpLogic: logic}
	}
	return qn
}

func TestBuildLinear(t *testing.T) {
	qn := linearQuestionnaire(3)
	g := Build(qn)
	if len(g.nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(g.nodes))
	}
	if len(g.adjacency[1]) != 1 || g.adjacency[1][0].To != 2 {
		t.Errorf("expected edge 1->2, got %+v", g.adjacency[1])
	}
	if len(g.adjacency[3]) != 0 {
		t.Errorf("expected no edges from 3, got %+v", g.adjacency[3])
	}
	if g.indegree[1] != 0 || g.indegree[2] != 1 {
		t.Errorf("unexpected indegrees: %v", g.indegree)
	}
}

func TestBuildBranch(t *testing.T) {
	qn := models.Questionnaire{
		"1": {Text: "Agree?", Kind: models.QuestionKindSingleChoice, Options: []string{"yes", "no"},
			JumpLogic: models.JumpLogic{"yes": {ID: 2}, "no": {ID: 3}}},
		"2": {Text: "Why?", Kind: models.QuestionKindTextResponse, JumpLogic: models.JumpLogic{models.JumpKeyNext: {End: true}}},
		"3": {Text: "Why not?", Kind: models.QuestionKindTextResponse, JumpLogic: models.JumpLogic{models.JumpKeyNext: {End: true}}},
	}
	g := Build(qn)
	edges := g.adjacency[1]
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges from 1, got %d", len(edges))
	}
	// Condition labels are attached in sorted order.
	if edges[0].Condition != "no" || edges[0].To != 3 {
		t.Errorf("expected first edge no->3, got %+v", edges[0])
	}
	if edges[1].Condition != "yes" || edges[1].To != 2 {
		t.Errorf("expected second edge yes->2, got %+v", edges[1])
	}
}

func TestBuildSkipsEndTargets(t *testing.T) {
	qn := models.Questionnaire{
		"1": {Text: "Continue?", Kind: models.QuestionKindSingleChoice, Options: []string{"yes", "no"},
			JumpLogic: models.JumpLogic{"yes": {ID: 2}, "no": {End: true}}},
		"2": {Text: "Great", Kind: models.QuestionKindTextResponse, JumpLogic: models.JumpLogic{models.JumpKeyNext: {End: true}}},
	}
	g := Build(qn)
	if len(g.adjacency[1]) != 1 {
		t.Errorf("expected single edge from 1, got %+v", g.adjacency[1])
	}
}

func TestIsAcyclic(t *testing.T) {
	if !Build(linearQuestionnaire(5)).IsAcyclic() {
		t.Error("linear questionnaire reported as cyclic")
	}
}

func TestIsAcyclicDetectsCycle(t *testing.T) {
	qn := linearQuestionnaire(3)
	// Point question 3 back at question 1.
	q := qn["3"]
	q.JumpLogic = models.JumpLogic{models.JumpKeyNext: {ID: 1}}
	qn["3"] = q
	if Build(qn).IsAcyclic() {
		t.Error("cycle 1->2->3->1 not detected")
	}
}

func TestEntryNodes(t *testing.T) {
	g := Build(linearQuestionnaire(4))
	starts := g.entryNodes()
	if len(starts) != 1 || starts[0] != 1 {
		t.Errorf("expected entry [1], got %v", starts)
	}
}

func TestAllPaths(t *testing.T) {
	qn := models.Questionnaire{
		"1": {Text: "Agree?", Kind: models.QuestionKindSingleChoice, Options: []string{"yes", "no"},
			JumpLogic: models.JumpLogic{"yes": {ID: 2}, "no": {ID: 3}}},
		"2": {Text: "Why?", Kind: models.QuestionKindTextResponse, JumpLogic: models.JumpLogic{models.JumpKeyNext: {ID: 4}}},
		"3": {Text: "Why not?", Kind: models.QuestionKindTextResponse, JumpLogic: models.JumpLogic{models.JumpKeyNext: {ID: 4}}},
		"4": {Text: "Done", Kind: models.QuestionKindTextResponse, JumpLogic: models.JumpLogic{models.JumpKeyNext: {End: true}}},
	}
	paths := Build(qn).AllPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d: %v", len(paths), paths)
	}
}
