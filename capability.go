package annex

import (
	"github.com/annexlab/annex/index/hnsw"
	"github.com/annexlab/annex/index/ivf"
)

// Parameter accessors dispatch on the variant tag. Calling an accessor
// on a variant that does not carry the parameter returns a
// KindCapabilityMismatch error and leaves the index untouched.

// SetNProbe sets the number of buckets probed per query. Only inverted
// file indexes carry this parameter.
func (idx *Index) SetNProbe(nprobe int) error {
	if idx.variant != VariantIVFFlat {
		return newError(KindCapabilityMismatch, "set_nprobe",
			"variant %s has no nprobe parameter", idx.variant)
	}
	return errValue(guard("set_nprobe", func() error {
		return idx.impl.(*ivf.Index).SetNprobe(nprobe)
	}))
}

// NProbe returns the number of buckets probed per query.
func (idx *Index) NProbe() (int, error) {
	if idx.variant != VariantIVFFlat {
		return 0, newError(KindCapabilityMismatch, "nprobe",
			"variant %s has no nprobe parameter", idx.variant)
	}
	return idx.impl.(*ivf.Index).Nprobe(), nil
}

// NList returns the number of inverted-file buckets.
func (idx *Index) NList() (int, error) {
	if idx.variant != VariantIVFFlat {
		return 0, newError(KindCapabilityMismatch, "nlist",
			"variant %s has no nlist parameter", idx.variant)
	}
	return idx.impl.(*ivf.Index).Nlist(), nil
}

// SetEfSearch sets the graph search candidate pool size. Only graph
// indexes carry this parameter.
func (idx *Index) SetEfSearch(ef int) error {
	if idx.variant != VariantHNSW {
		return newError(KindCapabilityMismatch, "set_ef_search",
			"variant %s has no ef_search parameter", idx.variant)
	}
	return errValue(guard("set_ef_search", func() error {
		return idx.impl.(*hnsw.Index).SetEfSearch(ef)
	}))
}

// EfSearch returns the graph search candidate pool size.
func (idx *Index) EfSearch() (int, error) {
	if idx.variant != VariantHNSW {
		return 0, newError(KindCapabilityMismatch, "ef_search",
			"variant %s has no ef_search parameter", idx.variant)
	}
	return idx.impl.(*hnsw.Index).EfSearch(), nil
}

// SetEfConstruction sets the graph insertion candidate pool size.
func (idx *Index) SetEfConstruction(ef int) error {
	if idx.variant != VariantHNSW {
		return newError(KindCapabilityMismatch, "set_ef_construction",
			"variant %s has no ef_construction parameter", idx.variant)
	}
	return errValue(guard("set_ef_construction", func() error {
		return idx.impl.(*hnsw.Index).SetEfConstruction(ef)
	}))
}

// EfConstruction returns the graph insertion candidate pool size.
func (idx *Index) EfConstruction() (int, error) {
	if idx.variant != VariantHNSW {
		return 0, newError(KindCapabilityMismatch, "ef_construction",
			"variant %s has no ef_construction parameter", idx.variant)
	}
	return idx.impl.(*hnsw.Index).EfConstruction(), nil
}

// SetKFactor sets the over-fetch factor of a refine index: the base
// index is asked for k*factor candidates before exact re-ranking.
func (idx *Index) SetKFactor(factor float32) error {
	if idx.variant != VariantRefine {
		return newError(KindCapabilityMismatch, "set_k_factor",
			"variant %s has no k_factor parameter", idx.variant)
	}
	return errValue(guard("set_k_factor", func() error {
		return idx.impl.(*refineIndex).setKFactor(factor)
	}))
}

// KFactor returns the over-fetch factor of a refine index.
func (idx *Index) KFactor() (float32, error) {
	if idx.variant != VariantRefine {
		return 0, newError(KindCapabilityMismatch, "k_factor",
			"variant %s has no k_factor parameter", idx.variant)
	}
	return idx.impl.(*refineIndex).kFactor, nil
}
