package annex

import (
	"strconv"
	"strings"

	"github.com/annexlab/annex/transform"
)

// IndexFactory builds an index from a comma-separated description, for
// example "Flat", "IVF256", "PCA32,HNSW16", "IDMap,SQ8" or
// "OPQ8,PQ8,RFlat". Supported tokens:
//
//	IDMap        wrap the index so it maps caller-chosen identifiers
//	PCA<dout>    PCA projection to dout dimensions
//	OPQ<m>       learned rotation for an m-subspace product quantizer
//	RR           random rotation
//	Flat         exact index
//	IVF<nlist>   inverted file with nlist buckets (optionally ",Flat")
//	HNSW[<M>]    graph index with M links per node
//	PQ<m>        product quantizer with m subspaces of 8 bits
//	SQ8 SQ4 SQfp16  scalar quantizer encodings
//	LSH          locality-sensitive hashing with d bits
//	RFlat        re-rank candidates against an exact flat copy
func IndexFactory(d int, description string, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	desc, err := parseDescription(description)
	if err != nil {
		return nil, err
	}

	// Transforms shrink or rotate the space the base index sees.
	curD := d
	transforms := make([]transform.Transform, 0, len(desc.transforms))
	for _, t := range desc.transforms {
		tr, err := buildTransform(t, curD)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, tr)
		curD = tr.DOut()
	}

	idx, err := buildBase(desc.base, curD, metric, optFns)
	if err != nil {
		return nil, err
	}

	for i := len(transforms) - 1; i >= 0; i-- {
		idx, err = NewPreTransform(transforms[i], idx, optFns...)
		if err != nil {
			return nil, err
		}
	}

	if desc.refine {
		refine, err := NewFlat(d, metric, optFns...)
		if err != nil {
			return nil, err
		}
		idx, err = NewRefine(idx, refine, optFns...)
		if err != nil {
			return nil, err
		}
	}

	if desc.idMap {
		return NewIDMap(idx, optFns...)
	}
	return idx, nil
}

// ValidateIndexDescription reports whether a description is well formed
// without building anything.
func ValidateIndexDescription(description string) error {
	_, err := parseDescription(description)
	return err
}

type transformToken struct {
	kind string // "PCA", "OPQ", "RR"
	arg  int
}

type baseToken struct {
	kind string // "Flat", "IVF", "HNSW", "PQ", "SQ", "LSH"
	arg  int
	sub  SQType
}

type description struct {
	idMap      bool
	transforms []transformToken
	base       baseToken
	refine     bool
}

func parseDescription(s string) (*description, error) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) == 0 || parts[0] == "" {
		return nil, newError(KindInvalidArgument, "index_factory", "empty description")
	}

	desc := &description{}
	i := 0
	if parts[i] == "IDMap" {
		desc.idMap = true
		i++
	}

	for ; i < len(parts); i++ {
		t, ok, err := parseTransformToken(parts[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		desc.transforms = append(desc.transforms, t)
	}

	if i >= len(parts) {
		return nil, newError(KindInvalidArgument, "index_factory",
			"description %q has no index", s)
	}
	base, err := parseBaseToken(parts[i])
	if err != nil {
		return nil, err
	}
	desc.base = base
	i++

	// "IVF256,Flat" spells out the bucket storage.
	if i < len(parts) && desc.base.kind == "IVF" && parts[i] == "Flat" {
		i++
	}
	if i < len(parts) && parts[i] == "RFlat" {
		desc.refine = true
		i++
	}
	if i < len(parts) {
		return nil, newError(KindInvalidArgument, "index_factory",
			"unexpected token %q in %q", parts[i], s)
	}
	return desc, nil
}

func parseTransformToken(tok string) (transformToken, bool, error) {
	switch {
	case tok == "RR":
		return transformToken{kind: "RR"}, true, nil
	case strings.HasPrefix(tok, "PCA"):
		arg, err := parseArg(tok, "PCA")
		if err != nil {
			return transformToken{}, false, err
		}
		return transformToken{kind: "PCA", arg: arg}, true, nil
	case strings.HasPrefix(tok, "OPQ"):
		arg, err := parseArg(tok, "OPQ")
		if err != nil {
			return transformToken{}, false, err
		}
		return transformToken{kind: "OPQ", arg: arg}, true, nil
	default:
		return transformToken{}, false, nil
	}
}

func parseBaseToken(tok string) (baseToken, error) {
	switch {
	case tok == "Flat":
		return baseToken{kind: "Flat"}, nil
	case tok == "LSH":
		return baseToken{kind: "LSH"}, nil
	case tok == "SQ8":
		return baseToken{kind: "SQ", sub: SQ8}, nil
	case tok == "SQ4":
		return baseToken{kind: "SQ", sub: SQ4}, nil
	case tok == "SQfp16":
		return baseToken{kind: "SQ", sub: SQFP16}, nil
	case tok == "HNSW":
		return baseToken{kind: "HNSW", arg: DefaultHNSWOptions.M}, nil
	case strings.HasPrefix(tok, "HNSW"):
		arg, err := parseArg(tok, "HNSW")
		if err != nil {
			return baseToken{}, err
		}
		return baseToken{kind: "HNSW", arg: arg}, nil
	case strings.HasPrefix(tok, "IVF"):
		arg, err := parseArg(tok, "IVF")
		if err != nil {
			return baseToken{}, err
		}
		return baseToken{kind: "IVF", arg: arg}, nil
	case strings.HasPrefix(tok, "PQ"):
		arg, err := parseArg(tok, "PQ")
		if err != nil {
			return baseToken{}, err
		}
		return baseToken{kind: "PQ", arg: arg}, nil
	default:
		return baseToken{}, newError(KindInvalidArgument, "index_factory",
			"unknown index token %q", tok)
	}
}

func parseArg(tok, prefix string) (int, error) {
	arg, err := strconv.Atoi(tok[len(prefix):])
	if err != nil || arg <= 0 {
		return 0, newError(KindInvalidArgument, "index_factory",
			"token %q needs a positive parameter", tok)
	}
	return arg, nil
}

func buildTransform(t transformToken, dIn int) (transform.Transform, error) {
	switch t.kind {
	case "PCA":
		tr, err := transform.NewPCA(dIn, t.arg)
		if err != nil {
			return nil, translateError("index_factory", err)
		}
		return tr, nil
	case "OPQ":
		tr, err := transform.NewOPQ(dIn, t.arg, 8)
		if err != nil {
			return nil, translateError("index_factory", err)
		}
		return tr, nil
	case "RR":
		tr, err := transform.NewRandomRotation(dIn, DefaultKmeansOptions.Seed)
		if err != nil {
			return nil, translateError("index_factory", err)
		}
		return tr, nil
	default:
		return nil, newError(KindInternal, "index_factory", "unknown transform %q", t.kind)
	}
}

func buildBase(b baseToken, d int, metric Metric, optFns []func(o *Options)) (*Index, error) {
	switch b.kind {
	case "Flat":
		return NewFlat(d, metric, optFns...)
	case "IVF":
		quantizer, err := NewFlat(d, metric, optFns...)
		if err != nil {
			return nil, err
		}
		return NewIVFFlat(quantizer, d, b.arg, metric, optFns...)
	case "HNSW":
		hopts := DefaultHNSWOptions
		hopts.M = b.arg
		return NewHNSWWithOptions(d, metric, hopts, optFns...)
	case "PQ":
		return NewPQ(d, b.arg, 8, metric, optFns...)
	case "SQ":
		return NewScalarQuantizer(d, b.sub, metric, optFns...)
	case "LSH":
		return NewLSH(d, d, optFns...)
	default:
		return nil, newError(KindInternal, "index_factory", "unknown index %q", b.kind)
	}
}
