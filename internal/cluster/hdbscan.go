// Package cluster implements density-based clustering of embedding vectors.
//
// HDBSCAN builds a minimum spanning tree over mutual reachability distances,
// condenses the resulting single-linkage hierarchy by a minimum cluster
// size, and selects the most stable clusters (excess of mass). Points that
// belong to no selected cluster are labelled Noise.
package cluster

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Noise is the label of points outside every cluster.
const Noise = -1

// maxLambda caps 1/distance for coincident points.
const maxLambda = 1e12

// Metric selects the distance used between points.
type Metric int

// Supported metrics.
const (
	Cosine Metric = iota
	Euclidean
)

// Config configures HDBSCAN.
type Config struct {
	// MinClusterSize is the smallest group reported as a cluster. Values
	// below 2 are raised to 2.
	MinClusterSize int

	// MinSamples is the neighbourhood size, including the point itself,
	// used for core distances. Zero means MinClusterSize.
	MinSamples int

	// Metric is the distance metric.
	Metric Metric
}

// Result holds cluster labels in input order.
type Result struct {
	Labels      []int
	NumClusters int
}

// Clusters returns the member indices of each cluster, ordered by label.
func (r Result) Clusters() [][]int {
	out := make([][]int, r.NumClusters)
	for i, l := range r.Labels {
		if l >= 0 {
			out[l] = append(out[l], i)
		}
	}
	return out
}

// NoisePoints returns the indices labelled Noise.
func (r Result) NoisePoints() []int {
	var out []int
	for i, l := range r.Labels {
		if l == Noise {
			out = append(out, i)
		}
	}
	return out
}

// HDBSCAN clusters points. All points must share the same dimension.
func HDBSCAN(points [][]float64, cfg Config) (Result, error) {
	n := len(points)
	mcs := max(cfg.MinClusterSize, 2)
	k := cfg.MinSamples
	if k <= 0 {
		k = mcs
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < mcs {
		return Result{Labels: labels}, nil
	}

	dist, err := distanceMatrix(points, cfg.Metric)
	if err != nil {
		return Result{}, err
	}
	core := coreDistances(dist, min(k, n))
	edges := primMST(dist, core)
	tree := singleLinkage(n, edges)
	ct := condense(tree, n, mcs)
	selected := ct.selectEOM()

	// Relabel selected clusters in creation order.
	next := 0
	labelOf := make(map[int]int)
	for c := range ct.clusters {
		if selected[c] {
			labelOf[c] = next
			next++
		}
	}
	for p := 0; p < n; p++ {
		for c := ct.pointCluster[p]; c >= 0; c = ct.clusters[c].parent {
			if selected[c] {
				labels[p] = labelOf[c]
				break
			}
		}
	}
	return Result{Labels: labels, NumClusters: next}, nil
}

// distanceMatrix computes pairwise distances. Cosine distance uses the Gram
// matrix of the row-normalised inputs.
func distanceMatrix(points [][]float64, metric Metric) ([][]float64, error) {
	n := len(points)
	dim := len(points[0])
	data := make([]float64, 0, n*dim)
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has dimension %d, want %d", i, len(p), dim)
		}
		row := slices.Clone(p)
		if metric == Cosine {
			if norm := floats.Norm(row, 2); norm > 0 {
				floats.Scale(1/norm, row)
			}
		}
		data = append(data, row...)
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}

	switch metric {
	case Cosine:
		x := mat.NewDense(n, dim, data)
		var gram mat.Dense
		gram.Mul(x, x.T())
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				d := math.Max(0, 1-gram.At(i, j))
				dist[i][j], dist[j][i] = d, d
			}
		}
	case Euclidean:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				d := floats.Distance(data[i*dim:(i+1)*dim], data[j*dim:(j+1)*dim], 2)
				dist[i][j], dist[j][i] = d, d
			}
		}
	default:
		return nil, fmt.Errorf("unknown metric %d", metric)
	}
	return dist, nil
}

// coreDistances returns the distance from each point to its k-th nearest
// neighbour, counting the point itself as the first.
func coreDistances(dist [][]float64, k int) []float64 {
	core := make([]float64, len(dist))
	row := make([]float64, len(dist))
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		core[i] = row[k-1]
	}
	return core
}

type edge struct {
	a, b int
	w    float64
}

// primMST builds a minimum spanning tree over mutual reachability distances.
func primMST(dist [][]float64, core []float64) []edge {
	n := len(dist)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	cur := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next, nextW := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			mr := math.Max(dist[cur][j], math.Max(core[cur], core[j]))
			if mr < best[j] {
				best[j], from[j] = mr, cur
			}
			if best[j] < nextW {
				next, nextW = j, best[j]
			}
		}
		inTree[next] = true
		edges = append(edges, edge{a: from[next], b: next, w: nextW})
		cur = next
	}
	return edges
}

// linkage is the single-linkage dendrogram. Internal node i has id n+i.
type linkage struct {
	left, right []int
	dist        []float64
	size        []int
}

func singleLinkage(n int, edges []edge) linkage {
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	lk := linkage{
		left:  make([]int, 0, n-1),
		right: make([]int, 0, n-1),
		dist:  make([]float64, 0, n-1),
		size:  make([]int, 0, n-1),
	}
	sizeOf := func(node int) int {
		if node < n {
			return 1
		}
		return lk.size[node-n]
	}
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		id := n + len(lk.left)
		lk.left = append(lk.left, ra)
		lk.right = append(lk.right, rb)
		lk.dist = append(lk.dist, e.w)
		lk.size = append(lk.size, sizeOf(ra)+sizeOf(rb))
		parent[ra], parent[rb] = id, id
	}
	return lk
}

type condensedCluster struct {
	parent    int
	birth     float64
	children  []int
	stability float64
}

type condensedTree struct {
	clusters     []condensedCluster
	pointCluster []int
}

func lambdaOf(d float64) float64 {
	if d <= 0 {
		return maxLambda
	}
	return math.Min(1/d, maxLambda)
}

// condense walks the dendrogram from the root, keeping a split only when
// both sides reach the minimum cluster size. Smaller sides fall out of the
// current cluster at the split's lambda.
func condense(lk linkage, n, mcs int) condensedTree {
	ct := condensedTree{
		clusters:     []condensedCluster{{parent: -1}},
		pointCluster: make([]int, n),
	}
	sizeOf := func(node int) int {
		if node < n {
			return 1
		}
		return lk.size[node-n]
	}
	leaves := func(node int) []int {
		var out []int
		stack := []int{node}
		for len(stack) > 0 {
			x := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if x < n {
				out = append(out, x)
				continue
			}
			stack = append(stack, lk.left[x-n], lk.right[x-n])
		}
		return out
	}
	fallOut := func(node, cluster int, lambda float64) {
		for _, p := range leaves(node) {
			ct.pointCluster[p] = cluster
			ct.clusters[cluster].stability += lambda - ct.clusters[cluster].birth
		}
	}
	newCluster := func(parent int, lambda float64, size int) int {
		id := len(ct.clusters)
		ct.clusters = append(ct.clusters, condensedCluster{parent: parent, birth: lambda})
		ct.clusters[parent].children = append(ct.clusters[parent].children, id)
		ct.clusters[parent].stability += (lambda - ct.clusters[parent].birth) * float64(size)
		return id
	}

	type frame struct{ node, cluster int }
	stack := []frame{{node: 2*n - 2, cluster: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node < n {
			fallOut(f.node, f.cluster, maxLambda)
			continue
		}
		i := f.node - n
		l, r := lk.left[i], lk.right[i]
		lambda := lambdaOf(lk.dist[i])
		ls, rs := sizeOf(l), sizeOf(r)

		switch {
		case ls >= mcs && rs >= mcs:
			cl := newCluster(f.cluster, lambda, ls)
			cr := newCluster(f.cluster, lambda, rs)
			stack = append(stack, frame{r, cr}, frame{l, cl})
		case ls >= mcs:
			fallOut(r, f.cluster, lambda)
			stack = append(stack, frame{l, f.cluster})
		case rs >= mcs:
			fallOut(l, f.cluster, lambda)
			stack = append(stack, frame{r, f.cluster})
		default:
			fallOut(l, f.cluster, lambda)
			fallOut(r, f.cluster, lambda)
		}
	}
	return ct
}

// selectEOM picks clusters by excess of mass. The root is never selected,
// so a single all-encompassing cluster yields only noise.
func (ct condensedTree) selectEOM() []bool {
	selected := make([]bool, len(ct.clusters))
	stability := make([]float64, len(ct.clusters))
	for i, c := range ct.clusters {
		stability[i] = c.stability
	}

	var deselect func(int)
	deselect = func(c int) {
		for _, child := range ct.clusters[c].children {
			selected[child] = false
			deselect(child)
		}
	}

	// Children always have larger ids than their parents.
	for c := len(ct.clusters) - 1; c >= 1; c-- {
		childSum := 0.0
		for _, child := range ct.clusters[c].children {
			childSum += stability[child]
		}
		if len(ct.clusters[c].children) > 0 && childSum > stability[c] {
			stability[c] = childSum
			continue
		}
		selected[c] = true
		deselect(c)
	}
	return selected
}
