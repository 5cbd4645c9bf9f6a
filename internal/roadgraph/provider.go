package roadgraph

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	yaml "gopkg.in/yaml.v3"

	"healthnav/internal/metrics"
	"healthnav/internal/model"
)

// Source loads the road network covering an anchor coordinate. RegionFor
// names the region that Load would return for the anchor; anchors with the
// same region share one graph.
type Source interface {
	RegionFor(lat, lon float64) string
	Load(ctx context.Context, lat, lon float64) (Network, error)
}

// FileSource reads a YAML road network from disk. The whole file is one
// region whatever the anchor.
type FileSource struct {
	Path string
}

func (f FileSource) RegionFor(lat, lon float64) string { return "file:" + f.Path }

func (f FileSource) Load(ctx context.Context, lat, lon float64) (Network, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Network{}, err
	}
	return ParseNetwork(data)
}

// ParseNetwork decodes a YAML road network.
func ParseNetwork(data []byte) (Network, error) {
	var n Network
	if err := yaml.Unmarshal(data, &n); err != nil {
		return Network{}, fmt.Errorf("parse road network: %w", err)
	}
	return n, nil
}

// StaticSource serves an in-memory network.
type StaticSource struct {
	Network Network
}

func (s StaticSource) RegionFor(lat, lon float64) string { return "static:" + s.Network.Region }

func (s StaticSource) Load(ctx context.Context, lat, lon float64) (Network, error) {
	return s.Network, nil
}

// DefaultCellDeg sizes a region cell (about 28 km of latitude) for sources
// that cut the map into tiles.
const DefaultCellDeg = 0.25

// CellKey names the cellDeg-sized cell that contains a coordinate.
func CellKey(lat, lon, cellDeg float64) string {
	return fmt.Sprintf("%d:%d", int64(math.Floor(lat/cellDeg)), int64(math.Floor(lon/cellDeg)))
}

const defaultBuildTimeout = time.Minute

// Provider hands out one Graph per source region. A region is built lazily
// on first use and exactly once; concurrent first requests share that build.
// Failed builds are not cached.
type Provider struct {
	src          Source
	maxSnap      float64
	buildTimeout time.Duration
	log          logr.Logger

	mu     sync.RWMutex
	graphs map[string]*Graph
	group  singleflight.Group
}

func NewProvider(src Source, maxSnapM float64, log logr.Logger) *Provider {
	return &Provider{src: src, maxSnap: maxSnapM, buildTimeout: defaultBuildTimeout, log: log, graphs: map[string]*Graph{}}
}

// ForAnchor returns the graph for the region containing (lat, lon). A caller
// whose ctx ends stops waiting, but the shared build carries on for the
// others.
func (p *Provider) ForAnchor(ctx context.Context, lat, lon float64) (*Graph, error) {
	key := p.src.RegionFor(lat, lon)
	p.mu.RLock()
	g, ok := p.graphs[key]
	p.mu.RUnlock()
	if ok {
		return g, nil
	}
	ch := p.group.DoChan(key, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.buildTimeout)
		defer cancel()
		return p.build(bctx, key, lat, lon)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Graph), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for road graph %s: %w", key, ctx.Err())
	}
}

func (p *Provider) build(ctx context.Context, key string, lat, lon float64) (*Graph, error) {
	p.mu.RLock()
	g, ok := p.graphs[key]
	p.mu.RUnlock()
	if ok {
		return g, nil
	}
	n, err := p.src.Load(ctx, lat, lon)
	if err != nil {
		metrics.GraphBuilds.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: load road network for region %s: %w", model.ErrOracleUnavailable, key, err)
	}
	g, err = Build(n, p.maxSnap)
	if err != nil {
		metrics.GraphBuilds.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", model.ErrOracleUnavailable, err)
	}
	p.mu.Lock()
	p.graphs[key] = g
	p.mu.Unlock()
	metrics.GraphBuilds.WithLabelValues("ok").Inc()
	p.log.Info("road graph built", "region", key, "name", n.Region, "nodes", len(n.Nodes), "edges", len(n.Edges))
	return g, nil
}

// Regions lists the regions that have a built graph.
func (p *Provider) Regions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.graphs))
	for k := range p.graphs {
		out = append(out, k)
	}
	return out
}
