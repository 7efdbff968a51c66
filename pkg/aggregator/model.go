package aggregator

import (
	"sort"

	"github.com/fl-coordination/fabric/pkg/wire"
)

// initShape fixes the model's parameter layout from the first
// participant's local model, per spec §4.3's "on the very first handshake
// of round=0, calls the external initializer with lmodels to fix the model
// shape" step. Parameter names are sorted so every subsequent flatten
// call produces the same ordering regardless of map iteration order.
func (s *Server) initShape(lmodels wire.ModelDict) {
	names := make([]string, 0, len(lmodels))
	for name := range lmodels {
		names = append(names, name)
	}
	sort.Strings(names)

	lens := make([]int, len(names))
	total := 0
	for i, name := range names {
		lens[i] = len(lmodels[name])
		total += lens[i]
	}

	s.paramNames = names
	s.paramLens = lens
	s.modelSize = total
	s.clusterModels = lmodels

	// Re-initialize now that the real model size is known; Initialize was
	// first called with ModelSize=0 at construction time since the shape
	// is only learned from the first participant. Reuse the configured
	// hyperparameters so this second call doesn't reset them to defaults.
	_ = s.algorithm.Initialize(AlgorithmConfig{
		AlgorithmName:   s.cfg.Algorithm.Name,
		ModelSize:       total,
		Hyperparameters: s.cfg.Algorithm.Hyperparameters,
	})
}

// flatten packs a named-array model dict into the flat slice shape the
// aggregation algorithms operate on, using the shape fixed by initShape.
func (s *Server) flatten(m wire.ModelDict) []float32 {
	flat := make([]float32, 0, s.modelSize)
	for _, name := range s.paramNames {
		flat = append(flat, m[name]...)
	}
	return flat
}

// unflatten reverses flatten, splitting a flat slice back into the
// original named arrays.
func (s *Server) unflatten(flat []float32) wire.ModelDict {
	out := make(wire.ModelDict, len(s.paramNames))
	offset := 0
	for i, name := range s.paramNames {
		n := s.paramLens[i]
		out[name] = append([]float32(nil), flat[offset:offset+n]...)
		offset += n
	}
	return out
}
