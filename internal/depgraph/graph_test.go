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

package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/pkg/unit"
)

func service(name string, after ...string) *unit.Service {
	svc := &unit.Service{}
	svc.UnitName = name
	svc.Unit.After = after
	// Tests build bare graphs without the implicit basic/shutdown edges.
	svc.Unit.DefaultDependencies = false
	return svc
}

func pos(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("%s not in order %v", name, order)
	return -1
}

func TestEmptyGraph(t *testing.T) {
	order, err := New().Toposort()
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestLinearChain(t *testing.T) {
	g := New()
	g.Add(service("a.service"))
	g.Add(service("b.service", "a.service"))
	g.Add(service("c.service", "b.service"))

	order, err := g.StartOrderFor("c.service")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.service", "b.service", "c.service"}, order)
}

func TestDiamond(t *testing.T) {
	g := New()
	g.Add(service("a.service"))
	g.Add(service("b.service", "a.service"))
	g.Add(service("c.service", "a.service"))
	g.Add(service("d.service", "b.service", "c.service"))

	order, err := g.Toposort()
	require.NoError(t, err)
	assert.Equal(t, 0, pos(t, order, "a.service"))
	assert.Equal(t, 3, pos(t, order, "d.service"))
	assert.Less(t, pos(t, order, "b.service"), pos(t, order, "d.service"))
	assert.Less(t, pos(t, order, "c.service"), pos(t, order, "d.service"))
}

func TestCycleDetection(t *testing.T) {
	g := New()
	g.Add(service("a.service", "c.service"))
	g.Add(service("b.service", "a.service"))
	g.Add(service("c.service", "b.service"))

	_, err := g.Toposort()
	require.Error(t, err)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"a.service", "b.service", "c.service"}, cycle.Nodes)
}

func TestBeforeEdge(t *testing.T) {
	g := New()
	a := service("a.service")
	a.Unit.Before = []string{"b.service"}
	g.Add(a)
	g.Add(service("b.service"))

	order, err := g.Toposort()
	require.NoError(t, err)
	assert.Less(t, pos(t, order, "a.service"), pos(t, order, "b.service"))
}

func TestEdgeOrderInvariant(t *testing.T) {
	g := New()
	g.Add(service("a.service"))
	g.Add(service("b.service", "a.service"))
	g.Add(service("c.service", "a.service", "b.service"))
	g.Add(service("d.service", "c.service"))

	order, err := g.Toposort()
	require.NoError(t, err)
	for _, n := range order {
		for _, dep := range g.Dependencies(n) {
			assert.Less(t, pos(t, order, dep), pos(t, order, n),
				"%s must precede %s", dep, n)
		}
	}
}

func TestStartOrderForReachability(t *testing.T) {
	g := New()
	g.Add(service("a.service"))
	g.Add(service("b.service", "a.service"))
	g.Add(service("c.service", "b.service"))
	g.Add(service("unrelated.service"))

	order, err := g.StartOrderFor("c.service")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.service", "b.service", "c.service"}, order)
	assert.NotContains(t, order, "unrelated.service")
}

func TestDefaultDependencies(t *testing.T) {
	g := New()
	svc := service("app.service")
	svc.Unit.DefaultDependencies = true
	g.Add(svc)

	order, err := g.Toposort()
	require.NoError(t, err)
	assert.Less(t, pos(t, order, "basic.target"), pos(t, order, "app.service"))
	assert.Less(t, pos(t, order, "app.service"), pos(t, order, "shutdown.target"))
}

func TestTargetWantsDirEdges(t *testing.T) {
	g := New()
	tgt := &unit.Target{}
	tgt.UnitName = "multi-user.target"
	tgt.Unit.DefaultDependencies = true
	tgt.WantsDir = []string{"a.service", "b.service"}
	g.Add(tgt)
	g.Add(service("a.service"))
	g.Add(service("b.service"))

	order, err := g.StartOrderFor("multi-user.target")
	require.NoError(t, err)
	assert.Less(t, pos(t, order, "a.service"), pos(t, order, "multi-user.target"))
	assert.Less(t, pos(t, order, "b.service"), pos(t, order, "multi-user.target"))
}

func TestBindsToOrdersDependency(t *testing.T) {
	g := New()
	svc := service("bound.service")
	svc.Unit.BindsTo = []string{"backing.service"}
	g.Add(svc)
	g.Add(service("backing.service"))

	order, err := g.Toposort()
	require.NoError(t, err)
	assert.Less(t, pos(t, order, "backing.service"), pos(t, order, "bound.service"))
}

func TestDeterministicTies(t *testing.T) {
	build := func() []string {
		g := New()
		g.Add(service("a.service"))
		g.Add(service("b.service"))
		g.Add(service("c.service"))
		order, err := g.Toposort()
		require.NoError(t, err)
		return order
	}
	first := build()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build())
	}
}
