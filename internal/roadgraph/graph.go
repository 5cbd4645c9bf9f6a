// Package roadgraph answers nearest-node and shortest-path queries over a
// road network loaded for one region.
package roadgraph

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/quadtree"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"healthnav/internal/metrics"
	"healthnav/internal/model"
)

// Network is the serialized form of a road network.
type Network struct {
	Region string `yaml:"region"`
	Nodes  []Node `yaml:"nodes"`
	Edges  []Edge `yaml:"edges"`
}

type Node struct {
	ID  int64   `yaml:"id"`
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Edge is a road segment. Segments are two-way unless Oneway is set.
type Edge struct {
	From    int64   `yaml:"from"`
	To      int64   `yaml:"to"`
	LengthM float64 `yaml:"length"`
	Oneway  bool    `yaml:"oneway,omitempty"`
}

// roadNode lets a node live in the quadtree. The index works on Web
// Mercator coordinates, which keep east-west and north-south scale equal at
// any latitude, so planar nearness tracks ground distance.
type roadNode struct {
	id   int64
	ll   orb.Point // lon, lat
	merc orb.Point
}

func (n roadNode) Point() orb.Point { return n.merc }

// snapCandidates is how many index neighbours are re-ranked by great-circle
// distance.
const snapCandidates = 8

const maxCachedTrees = 256

// Graph is an immutable road network with a per-source shortest path cache.
// It is safe for concurrent use.
type Graph struct {
	region  string
	g       *simple.WeightedDirectedGraph
	index   *quadtree.Quadtree
	maxSnap float64 // meters, 0 means unlimited

	mu    sync.Mutex
	trees map[int64]path.Shortest
}

// Build validates n and indexes it. maxSnapM bounds how far a coordinate may
// be from its nearest node.
func Build(n Network, maxSnapM float64) (*Graph, error) {
	if len(n.Nodes) == 0 {
		return nil, fmt.Errorf("road network %q has no nodes", n.Region)
	}
	g := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	merc := make(orb.MultiPoint, 0, len(n.Nodes))
	for _, nd := range n.Nodes {
		if g.Node(nd.ID) != nil {
			return nil, fmt.Errorf("road network %q: duplicate node %d", n.Region, nd.ID)
		}
		g.AddNode(simple.Node(nd.ID))
		if nd.Lat < -85 || nd.Lat > 85 || nd.Lon < -180 || nd.Lon > 180 {
			return nil, fmt.Errorf("road network %q: node %d has coordinates out of range", n.Region, nd.ID)
		}
		merc = append(merc, project.WGS84.ToMercator(orb.Point{nd.Lon, nd.Lat}))
	}
	for _, e := range n.Edges {
		if g.Node(e.From) == nil || g.Node(e.To) == nil {
			return nil, fmt.Errorf("road network %q: edge %d-%d references unknown node", n.Region, e.From, e.To)
		}
		if e.LengthM < 0 || math.IsNaN(e.LengthM) || math.IsInf(e.LengthM, 0) {
			return nil, fmt.Errorf("road network %q: edge %d-%d has invalid length %v", n.Region, e.From, e.To, e.LengthM)
		}
		if e.From == e.To {
			continue
		}
		setShorter(g, e.From, e.To, e.LengthM)
		if !e.Oneway {
			setShorter(g, e.To, e.From, e.LengthM)
		}
	}

	qt := quadtree.New(merc.Bound().Pad(1000))
	for i, nd := range n.Nodes {
		if err := qt.Add(roadNode{id: nd.ID, ll: orb.Point{nd.Lon, nd.Lat}, merc: merc[i]}); err != nil {
			return nil, fmt.Errorf("road network %q: index node %d: %w", n.Region, nd.ID, err)
		}
	}
	return &Graph{region: n.Region, g: g, index: qt, maxSnap: maxSnapM, trees: map[int64]path.Shortest{}}, nil
}

// setShorter keeps the shortest of parallel segments.
func setShorter(g *simple.WeightedDirectedGraph, from, to int64, w float64) {
	if cur, ok := g.Weight(from, to); ok && cur <= w {
		return
	}
	g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(from), simple.Node(to), w))
}

func (g *Graph) Region() string { return g.region }

// NearestNode snaps a coordinate to the closest road node.
func (g *Graph) NearestNode(ctx context.Context, lat, lon float64) (int64, error) {
	start := time.Now()
	id, err := g.nearestNode(ctx, lat, lon)
	observe("nearest_node", start, err)
	return id, err
}

func (g *Graph) nearestNode(ctx context.Context, lat, lon float64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if lat < -85 || lat > 85 {
		return 0, fmt.Errorf("%w: latitude %.5f is outside the road index", model.ErrOracleUnavailable, lat)
	}
	q := orb.Point{lon, lat}
	found := g.index.KNearest(nil, project.WGS84.ToMercator(q), snapCandidates)
	if len(found) == 0 {
		return 0, fmt.Errorf("%w: empty road index", model.ErrOracleUnavailable)
	}
	var best roadNode
	bestD := math.Inf(1)
	for _, f := range found {
		n := f.(roadNode)
		d := geo.DistanceHaversine(q, n.ll)
		if d < bestD || (d == bestD && n.id < best.id) {
			best, bestD = n, d
		}
	}
	if g.maxSnap > 0 && bestD > g.maxSnap {
		return 0, fmt.Errorf("%w: nearest road node to (%.5f,%.5f) is %.0fm away", model.ErrOracleUnavailable, lat, lon, bestD)
	}
	return best.id, nil
}

// ShortestPathLength returns the road distance in meters from one node to
// another.
func (g *Graph) ShortestPathLength(ctx context.Context, from, to int64) (float64, error) {
	start := time.Now()
	d, err := g.shortestPathLength(ctx, from, to)
	observe("shortest_path", start, err)
	return d, err
}

func (g *Graph) shortestPathLength(ctx context.Context, from, to int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if g.g.Node(from) == nil || g.g.Node(to) == nil {
		return 0, fmt.Errorf("%w: unknown node %d or %d", model.ErrOracleUnavailable, from, to)
	}
	if from == to {
		return 0, nil
	}
	tree := g.tree(from)
	d := tree.WeightTo(to)
	if math.IsInf(d, 1) {
		return 0, fmt.Errorf("%w: node %d unreachable from %d", model.ErrOracleUnavailable, to, from)
	}
	return d, nil
}

func (g *Graph) tree(from int64) path.Shortest {
	g.mu.Lock()
	t, ok := g.trees[from]
	g.mu.Unlock()
	if ok {
		return t
	}
	t = path.DijkstraFrom(g.g.Node(from), g.g)
	g.mu.Lock()
	if len(g.trees) >= maxCachedTrees {
		g.trees = map[int64]path.Shortest{}
	}
	g.trees[from] = t
	g.mu.Unlock()
	return t
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.OracleQueries.WithLabelValues(op, status).Inc()
	metrics.OracleLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
