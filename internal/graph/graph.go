// Package graph compiles a questionnaire's jump logic into a directed routing
// graph and partitions it into size-bounded linear segments.
//
// The graph must be acyclic before its segmentation is trusted for execution;
// cyclic questionnaires are rejected before any respondent runs.
package graph

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// Edge is one directed jump between questions, optionally labeled with the
// branch condition that selects it.
type Edge struct {
	From      int
	To        int
	Condition string
}

// QuestionGraph is the directed graph over question ids built from jump
// logic. It is built once per questionnaire version and immutable thereafter.
type QuestionGraph struct {
	questionnaire models.Questionnaire
	nodes         map[int]bool
	adjacency     map[int][]Edge
	indegree      map[int]int
}

// Build constructs the routing graph from a parsed questionnaire. One edge is
// added per jump-logic entry; null and end targets are skipped. Dangling
// references (targets with no question) become nodes with no outgoing edges
// rather than errors.
func Build(qn models.Questionnaire) *QuestionGraph {
	g := &QuestionGraph{
		questionnaire: qn,
		nodes:         make(map[int]bool),
		adjacency:     make(map[int][]Edge),
		indegree:      make(map[int]int),
	}

	for _, id := range questionIDs(qn) {
		g.nodes[id] = true
		q, _ := qn.Get(id)
		next, hasNext := q.JumpLogic[models.JumpKeyNext]
		if hasNext && !next.End {
			g.addEdge(Edge{From: id, To: next.ID})
			continue
		}
		for _, label := range conditionLabels(q.JumpLogic) {
			target := q.JumpLogic[label]
			if target.End {
				continue
			}
			g.addEdge(Edge{From: id, To: target.ID, Condition: label})
		}
	}

	slog.Debug("QuestionGraph built", "nodes", len(g.nodes), "questions", qn.Size())
	return g
}

func (g *QuestionGraph) addEdge(e Edge) {
	g.nodes[e.From] = true
	g.nodes[e.To] = true
	g.adjacency[e.From] = append(g.adjacency[e.From], e)
	g.indegree[e.To]++
}

// IsAcyclic reports whether the routing graph contains no cycles. It must
// return true before Split output is used for execution.
func (g *QuestionGraph) IsAcyclic() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[int]int, len(g.nodes))

	var visit func(n int) bool
	visit = func(n int) bool {
		state[n] = visiting
		for _, e := range g.adjacency[n] {
			switch state[e.To] {
			case visiting:
				return false
			case unvisited:
				if !visit(e.To) {
					return false
				}
			}
		}
		state[n] = done
		return true
	}

	for _, n := range g.sortedNodes() {
		if state[n] == unvisited && !visit(n) {
			slog.Warn("QuestionGraph cycle detected", "node", n)
			return false
		}
	}
	return true
}

// AllPaths enumerates every simple path from each zero-indegree node to each
// zero-outdegree node. Used by visualization tooling, not by execution.
func (g *QuestionGraph) AllPaths() [][]int {
	starts := g.entryNodes()
	var ends []int
	for _, n := range g.sortedNodes() {
		if len(g.adjacency[n]) == 0 {
			ends = append(ends, n)
		}
	}

	var paths [][]int
	var walk func(n, end int, path []int, onPath map[int]bool)
	walk = func(n, end int, path []int, onPath map[int]bool) {
		if n == end {
			cp := make([]int, len(path))
			copy(cp, path)
			paths = append(paths, cp)
			return
		}
		for _, e := range g.adjacency[n] {
			if onPath[e.To] {
				continue
			}
			onPath[e.To] = true
			walk(e.To, end, append(path, e.To), onPath)
			delete(onPath, e.To)
		}
	}

	for _, start := range starts {
		for _, end := range ends {
			walk(start, end, []int{start}, map[int]bool{start: true})
		}
	}
	return paths
}

// entryNodes returns the zero-indegree nodes in ascending order. If every
// node has an incoming edge, the lowest-numbered question is the fallback
// entry.
func (g *QuestionGraph) entryNodes() []int {
	var starts []int
	for _, n := range g.sortedNodes() {
		if g.indegree[n] == 0 {
			starts = append(starts, n)
		}
	}
	if len(starts) == 0 {
		if ids := questionIDs(g.questionnaire); len(ids) > 0 {
			starts = []int{ids[0]}
		}
	}
	return starts
}

func (g *QuestionGraph) sortedNodes() []int {
	out := make([]int, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// questionIDs returns the numeric question ids in ascending order, skipping
// non-numeric keys.
func questionIDs(qn models.Questionnaire) []int {
	ids := make([]int, 0, len(qn))
	for key := range qn {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// conditionLabels returns the non-"next" jump-logic labels in a stable order.
func conditionLabels(j models.JumpLogic) []string {
	labels := make([]string, 0, len(j))
	for label := range j {
		if label == models.JumpKeyNext {
			continue
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
