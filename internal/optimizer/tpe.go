package optimizer

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// sampler proposes points in a search space. Values are normalised to
// [0,1] per dimension internally.
type sampler struct {
	space      domain.SearchSpace
	rng        *rand.Rand
	gamma      float64
	candidates int
}

func (s *sampler) random() map[string]float64 {
	u := make([]float64, len(s.space))
	for i := range u {
		u[i] = s.rng.Float64()
	}
	return s.denormalise(u)
}

// propose splits history into the best gamma share and the rest, draws
// candidates around good trials and returns the one maximising the ratio of
// good to bad kernel densities.
func (s *sampler) propose(history []Trial) map[string]float64 {
	if len(history) < 2 {
		return s.random()
	}
	ranked := make([]Trial, len(history))
	copy(ranked, history)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Objective > ranked[j].Objective })

	nGood := int(math.Ceil(s.gamma * float64(len(ranked))))
	if nGood < 1 {
		nGood = 1
	}
	if nGood >= len(ranked) {
		nGood = len(ranked) - 1
	}
	good := s.points(ranked[:nGood])
	bad := s.points(ranked[nGood:])

	dims := len(s.space)
	goodBW := make([]float64, dims)
	badBW := make([]float64, dims)
	for d := 0; d < dims; d++ {
		goodBW[d] = bandwidth(good, d)
		badBW[d] = bandwidth(bad, d)
	}

	var best []float64
	bestScore := math.Inf(-1)
	for c := 0; c < s.candidates; c++ {
		x := make([]float64, dims)
		pick := s.rng.IntN(len(good) + 1)
		for d := 0; d < dims; d++ {
			if pick == len(good) {
				x[d] = s.rng.Float64()
				continue
			}
			x[d] = clamp01(good[pick][d] + s.rng.NormFloat64()*goodBW[d])
		}
		score := 0.0
		for d := 0; d < dims; d++ {
			score += math.Log(density(good, d, x[d], goodBW[d])) - math.Log(density(bad, d, x[d], badBW[d]))
		}
		if score > bestScore {
			bestScore = score
			best = x
		}
	}
	return s.denormalise(best)
}

func (s *sampler) points(trials []Trial) [][]float64 {
	out := make([][]float64, len(trials))
	for i, t := range trials {
		p := make([]float64, len(s.space))
		for d, r := range s.space {
			p[d] = clamp01((t.Values[r.Key] - r.Min) / (r.Max - r.Min))
		}
		out[i] = p
	}
	return out
}

func (s *sampler) denormalise(u []float64) map[string]float64 {
	out := make(map[string]float64, len(s.space))
	for d, r := range s.space {
		v := r.Min + u[d]*(r.Max-r.Min)
		if r.Integer {
			v = math.Round(v)
		}
		out[r.Key] = math.Min(r.Max, math.Max(r.Min, v))
	}
	return out
}

// bandwidth follows Scott's rule, clamped so a collapsed cluster still
// explores.
func bandwidth(points [][]float64, d int) float64 {
	n := len(points)
	if n < 2 {
		return 0.25
	}
	var sum float64
	for _, p := range points {
		sum += p[d]
	}
	mean := sum / float64(n)
	var ss float64
	for _, p := range points {
		ss += (p[d] - mean) * (p[d] - mean)
	}
	h := 1.06 * math.Sqrt(ss/float64(n)) * math.Pow(float64(n), -0.2)
	return math.Min(0.5, math.Max(0.03, h))
}

// density is a Gaussian mixture over points plus one uniform prior
// component on [0,1].
func density(points [][]float64, d int, x, h float64) float64 {
	total := 1.0
	for _, p := range points {
		z := (x - p[d]) / h
		total += math.Exp(-0.5*z*z) / (h * math.Sqrt(2*math.Pi))
	}
	return total / float64(len(points)+1)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
