package annex

import "fmt"

// Variant identifies the concrete index implementation behind a facade
// handle. Every handle carries its variant from construction; parameter
// dispatch and serialization key off this tag instead of probing the
// implementation at runtime.
type Variant int

const (
	// VariantFlat is the exact brute-force index.
	VariantFlat Variant = iota

	// VariantIVFFlat is the inverted-file index with flat storage.
	VariantIVFFlat

	// VariantHNSW is the hierarchical navigable small world graph.
	VariantHNSW

	// VariantPQ is the product quantizer index.
	VariantPQ

	// VariantScalarQuantizer is the scalar quantizer index.
	VariantScalarQuantizer

	// VariantLSH is the locality-sensitive hashing index.
	VariantLSH

	// VariantRefine re-ranks another index's candidates exactly.
	VariantRefine

	// VariantPreTransform applies a vector transform before another index.
	VariantPreTransform

	// VariantIDMap maps external identifiers onto another index.
	VariantIDMap

	// VariantShards fans operations out over child indexes.
	VariantShards

	// VariantBinaryFlat is the exact packed-bit index.
	VariantBinaryFlat

	// VariantBinaryIVF is the inverted-file index over packed bits.
	VariantBinaryIVF

	// VariantBinaryHash is the prefix-bucket packed-bit index.
	VariantBinaryHash
)

func (v Variant) String() string {
	switch v {
	case VariantFlat:
		return "Flat"
	case VariantIVFFlat:
		return "IVFFlat"
	case VariantHNSW:
		return "HNSW"
	case VariantPQ:
		return "PQ"
	case VariantScalarQuantizer:
		return "SQ"
	case VariantLSH:
		return "LSH"
	case VariantRefine:
		return "Refine"
	case VariantPreTransform:
		return "PreTransform"
	case VariantIDMap:
		return "IDMap"
	case VariantShards:
		return "Shards"
	case VariantBinaryFlat:
		return "BinaryFlat"
	case VariantBinaryIVF:
		return "BinaryIVF"
	case VariantBinaryHash:
		return "BinaryHash"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}
