/*
   Copyright The sysd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package depgraph builds the unit ordering graph and plans boot order.
package depgraph

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/Osso/sysd/pkg/unit"
)

const (
	basicTarget    = "basic.target"
	shutdownTarget = "shutdown.target"
)

// Graph is a directed dependency graph over unit names. An edge u -> v means
// v must be started before u.
type Graph struct {
	// deps[u] holds the nodes that must precede u, insertion-ordered for
	// deterministic planning.
	deps  map[string][]string
	nodes []string
	index map[string]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		deps:  map[string][]string{},
		index: map[string]bool{},
	}
}

func (g *Graph) node(name string) {
	if !g.index[name] {
		g.index[name] = true
		g.nodes = append(g.nodes, name)
	}
}

// addDep records that dep must start before name.
func (g *Graph) addDep(name, dep string) {
	g.node(name)
	g.node(dep)
	for _, d := range g.deps[name] {
		if d == dep {
			return
		}
	}
	g.deps[name] = append(g.deps[name], dep)
}

// Add inserts a unit and its relation edges. After=, Requires=, Wants= and a
// target's .wants/ entries order the named units before this one; Before=
// orders this unit ahead of the named ones. With DefaultDependencies= (the
// default) a non-target additionally orders after basic.target and before
// shutdown.target.
func (g *Graph) Add(u unit.Unit) {
	name := u.Name()
	g.node(name)
	c := u.Common()

	if c.DefaultDependencies && u.Kind() != unit.KindTarget {
		g.addDep(name, basicTarget)
		g.addDep(shutdownTarget, name)
	}
	for _, dep := range c.After {
		g.addDep(name, dep)
	}
	for _, dep := range c.Requires {
		g.addDep(name, dep)
	}
	for _, dep := range c.Wants {
		g.addDep(name, dep)
	}
	for _, dep := range c.BindsTo {
		g.addDep(name, dep)
	}
	for _, dep := range c.Before {
		g.addDep(dep, name)
	}
	if t, ok := u.(*unit.Target); ok {
		for _, dep := range t.WantsDir {
			g.addDep(name, dep)
		}
	}
}

// Dependencies returns the direct predecessors of a node.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// CycleError reports nodes left unsortable by a dependency cycle.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving: %s", strings.Join(e.Nodes, ", "))
}

// Unwrap makes cycle errors match errdefs.ErrInvalidArgument.
func (e *CycleError) Unwrap() error { return errdefs.ErrInvalidArgument }

// Toposort orders all nodes so that every dependency precedes its dependents
// (Kahn's algorithm). Ties drain in node insertion order. A cycle yields a
// CycleError naming the stuck nodes.
func (g *Graph) Toposort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	dependents := map[string][]string{}
	for _, n := range g.nodes {
		indegree[n] = len(g.deps[n])
		for _, dep := range g.deps[n] {
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var queue []string
	for _, n := range g.nodes {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for _, n := range g.nodes {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		return nil, &CycleError{Nodes: stuck}
	}
	return order, nil
}

// StartOrderFor returns the names reachable from target through dependency
// edges, in global topological order.
func (g *Graph) StartOrderFor(target string) ([]string, error) {
	reachable := map[string]bool{target: true}
	queue := []string{target}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[n] {
			if !reachable[dep] {
				reachable[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	full, err := g.Toposort()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(reachable))
	for _, n := range full {
		if reachable[n] {
			order = append(order, n)
		}
	}
	return order, nil
}
