// Package cluster partitions facility coordinates into k groups with seeded
// k-means, so identical input, k and seed always give the same labels.
package cluster

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/model"
)

// ErrNoCoordinates is returned when no facility has a valid coordinate pair.
var ErrNoCoordinates = eris.New("cluster: no facilities with valid coordinates")

// Defaults for Options.
const (
	DefaultMaxIterations = 300
	DefaultTolerance     = 1e-4
)

// Options configures Run.
type Options struct {
	K             int
	Seed          uint64
	MaxIterations int     // 0 means DefaultMaxIterations
	Tolerance     float64 // max centroid shift, in degrees, that counts as converged; 0 means DefaultTolerance
}

// Point is a (lat, lon) pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Result is the outcome of a clustering run.
type Result struct {
	K          int
	Assignment map[string]int // facility id → 0..K-1, or model.Unclustered
	Centroids  []Point        // indexed by cluster id
	Counts     []int          // distinct facilities per cluster id
	Iterations int
	Converged  bool
}

// Cluster maps every facility id to a cluster in [0, k), or to
// model.Unclustered when the facility has no valid coordinates.
func Cluster(points []model.Facility, k int, seed uint64) (map[string]int, error) {
	res, err := Run(points, Options{K: k, Seed: seed})
	if err != nil {
		return nil, err
	}
	return res.Assignment, nil
}

// Run clusters points and reports centroids and member counts as well as
// the assignment. Rows sharing an id are clustered once, using the first
// row with valid coordinates.
func Run(points []model.Facility, opts Options) (*Result, error) {
	if opts.K < 1 {
		return nil, eris.Errorf("cluster: k must be >= 1, got %d", opts.K)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}

	assignment := make(map[string]int, len(points))
	coords := make(map[string]Point, len(points))
	for i := range points {
		f := &points[i]
		if f.ID == "" {
			return nil, eris.Errorf("cluster: facility at row %d has no id", i)
		}
		if _, ok := coords[f.ID]; ok {
			continue
		}
		if lat, lon, ok := f.Point(); ok {
			coords[f.ID] = Point{Lat: lat, Lon: lon}
			continue
		}
		assignment[f.ID] = model.Unclustered
	}
	for id := range coords {
		delete(assignment, id)
	}
	if len(coords) == 0 {
		return nil, ErrNoCoordinates
	}

	ids := make([]string, 0, len(coords))
	for id := range coords {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	pts := make([]Point, len(ids))
	for i, id := range ids {
		pts[i] = coords[id]
	}

	km := newKMeans(pts, opts)
	km.run()

	res := &Result{
		K:          opts.K,
		Assignment: assignment,
		Centroids:  km.centroids,
		Counts:     make([]int, opts.K),
		Iterations: km.iterations,
		Converged:  km.converged,
	}
	for i, id := range ids {
		c := km.labels[i]
		res.Assignment[id] = c
		res.Counts[c]++
	}

	zap.L().Info("clustering complete",
		zap.String("component", "cluster"),
		zap.Int("k", opts.K),
		zap.Uint64("seed", opts.Seed),
		zap.Int("points", len(pts)),
		zap.Int("unclustered", len(assignment)-len(pts)),
		zap.Int("iterations", km.iterations),
		zap.Bool("converged", km.converged),
		zap.Ints("counts", res.Counts),
	)
	return res, nil
}

// kmeans holds Lloyd's algorithm state over a fixed, ordered point set.
type kmeans struct {
	pts        []Point
	k          int
	maxIter    int
	tol        float64
	rng        *rand.Rand
	centroids  []Point
	labels     []int
	iterations int
	converged  bool
}

func newKMeans(pts []Point, opts Options) *kmeans {
	return &kmeans{
		pts:     pts,
		k:       opts.K,
		maxIter: opts.MaxIterations,
		tol:     opts.Tolerance,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		labels:  make([]int, len(pts)),
	}
}

func (km *kmeans) run() {
	km.seed()
	km.assign()
	for km.iterations < km.maxIter {
		km.iterations++
		shift := km.update()
		changed := km.assign()
		if !changed || shift <= km.tol {
			km.converged = true
			return
		}
	}
}

// seed picks initial centroids with k-means++: each next centroid is drawn
// with probability proportional to its squared distance from the nearest
// centroid already chosen. Coincident points can yield duplicate centroids,
// which leaves clusters empty.
func (km *kmeans) seed() {
	n := len(km.pts)
	km.centroids = make([]Point, 0, km.k)
	km.centroids = append(km.centroids, km.pts[km.rng.IntN(n)])

	d2 := make([]float64, n)
	for i, p := range km.pts {
		d2[i] = sqDist(p, km.centroids[0])
	}

	for len(km.centroids) < km.k {
		var sum float64
		for _, d := range d2 {
			sum += d
		}

		next := n - 1
		if sum == 0 {
			next = km.rng.IntN(n)
		} else {
			target := km.rng.Float64() * sum
			var acc float64
			for i, d := range d2 {
				acc += d
				if acc > target {
					next = i
					break
				}
			}
		}

		c := km.pts[next]
		km.centroids = append(km.centroids, c)
		for i, p := range km.pts {
			d2[i] = math.Min(d2[i], sqDist(p, c))
		}
	}
}

// assign labels each point with its nearest centroid, lowest id on ties,
// and reports whether any label changed.
func (km *kmeans) assign() bool {
	changed := false
	for i, p := range km.pts {
		best, bestD := 0, math.Inf(1)
		for c, centroid := range km.centroids {
			if d := sqDist(p, centroid); d < bestD {
				best, bestD = c, d
			}
		}
		if km.labels[i] != best {
			km.labels[i] = best
			changed = true
		}
	}
	return changed
}

// update moves each centroid to the mean of its members and returns the
// largest shift. Empty clusters keep their centroid.
func (km *kmeans) update() float64 {
	sums := make([]Point, km.k)
	counts := make([]int, km.k)
	for i, p := range km.pts {
		c := km.labels[i]
		sums[c].Lat += p.Lat
		sums[c].Lon += p.Lon
		counts[c]++
	}

	var maxShift float64
	for c := range km.centroids {
		if counts[c] == 0 {
			continue
		}
		next := Point{Lat: sums[c].Lat / float64(counts[c]), Lon: sums[c].Lon / float64(counts[c])}
		maxShift = math.Max(maxShift, math.Sqrt(sqDist(km.centroids[c], next)))
		km.centroids[c] = next
	}
	return maxShift
}

func sqDist(a, b Point) float64 {
	dLat, dLon := a.Lat-b.Lat, a.Lon-b.Lon
	return dLat*dLat + dLon*dLon
}
