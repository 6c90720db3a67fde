// Package depgraph implements the Dependency Resolver: parsing inter-issue
// dependency references and topologically sorting a requested issue set.
//
// No pack repo exposes a reusable topological-sort library — the DAG-shaped
// types elsewhere in the retrieval pack are domain objects (agent
// pipelines, Kubernetes resource graphs), not general sort utilities — so
// Kahn's algorithm is hand-written here against a plain adjacency map; see
// DESIGN.md for the standard-library justification.
package depgraph

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// dependsOnBodyRegex matches "Depends on: #<n>" references inside an issue
// body, case-insensitively, allowing multiple comma-separated references.
var dependsOnBodyRegex = regexp.MustCompile(`(?i)depends\s+on:\s*(#\d+(?:\s*,\s*#\d+)*)`)

// issueRefRegex extracts individual "#<n>" tokens from a matched reference
// list.
var issueRefRegex = regexp.MustCompile(`#(\d+)`)

// dependsOnLabelRegex matches "depends-on/<n>" or "depends-on-<n>" labels.
var dependsOnLabelRegex = regexp.MustCompile(`(?i)^depends-on[/-](\d+)$`)

// ParseBodyDependencies extracts every "Depends on: #<n>" reference from an
// issue body.
func ParseBodyDependencies(body string) []int {
	var out []int
	for _, m := range dependsOnBodyRegex.FindAllStringSubmatch(body, -1) {
		for _, ref := range issueRefRegex.FindAllStringSubmatch(m[1], -1) {
			n, err := strconv.Atoi(ref[1])
			if err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

// ParseLabelDependencies extracts dependency targets from
// "depends-on/<n>"/"depends-on-<n>" labels.
func ParseLabelDependencies(labels []string) []int {
	var out []int
	for _, l := range labels {
		if m := dependsOnLabelRegex.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

// Issue is the minimal input the resolver needs per requested issue.
type Issue struct {
	Number int
	Body   string
	Labels []string
}

// Graph is a directed dependency graph restricted to the requested issue
// set; edges pointing outside that set are dropped (spec.md §4.10:
// "external dependencies ignored").
type Graph struct {
	edges map[int][]int // issue -> issues it depends on
	nodes []int
}

// Build parses dependencies for every issue in issues and restricts the
// resulting graph to edges where both endpoints are in the requested set.
func Build(issues []Issue) *Graph {
	requested := make(map[int]bool, len(issues))
	for _, iss := range issues {
		requested[iss.Number] = true
	}
	g := &Graph{edges: make(map[int][]int, len(issues))}
	for _, iss := range issues {
		g.nodes = append(g.nodes, iss.Number)
		var deps []int
		deps = append(deps, ParseBodyDependencies(iss.Body)...)
		deps = append(deps, ParseLabelDependencies(iss.Labels)...)
		var kept []int
		seen := make(map[int]bool)
		for _, d := range deps {
			if d == iss.Number || !requested[d] || seen[d] {
				continue
			}
			seen[d] = true
			kept = append(kept, d)
		}
		g.edges[iss.Number] = kept
	}
	return g
}

// DependentsOf returns every issue in the requested set whose edges name
// issue as a prerequisite, for surfacing "downstream of a failed issue"
// warnings in sequential mode (spec.md §4.6).
func (g *Graph) DependentsOf(issue int) []int {
	var out []int
	for _, n := range g.nodes {
		for _, d := range g.edges[n] {
			if d == issue {
				out = append(out, n)
				break
			}
		}
	}
	sort.Ints(out)
	return out
}

// HasEdges reports whether the graph has at least one dependency edge among
// the requested issues.
func (g *Graph) HasEdges() bool {
	for _, deps := range g.edges {
		if len(deps) > 0 {
			return true
		}
	}
	return false
}

// TopoSort returns issues in dependency order (prerequisites first) via
// Kahn's algorithm, tie-breaking independent issues by ascending IID per
// SPEC_FULL.md §9 Open Question 3. It returns ErrCycle if the graph is not
// a DAG.
func (g *Graph) TopoSort() ([]int, error) {
	inDegree := make(map[int]int, len(g.nodes))
	dependents := make(map[int][]int) // dependency -> issues that depend on it
	for _, n := range g.nodes {
		inDegree[n] = 0
	}
	for issue, deps := range g.edges {
		inDegree[issue] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], issue)
		}
	}

	var ready []int
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Ints(ready)

	var order []int
	for len(ready) > 0 {
		sort.Ints(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var newlyReady []int
		for _, dep := range dependents[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(g.nodes) {
		cyclic := make([]int, 0)
		for _, n := range g.nodes {
			if inDegree[n] > 0 {
				cyclic = append(cyclic, n)
			}
		}
		sort.Ints(cyclic)
		return nil, fmt.Errorf("%w: %v", ErrCycle, cyclic)
	}
	return order, nil
}
