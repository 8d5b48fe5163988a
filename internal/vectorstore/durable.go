package vectorstore

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/codescout-dev/codescout/internal/apperr"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/pkg/types"
)

// shardMeta is the contents of a class shard's meta.json.
type shardMeta struct {
	LastBuiltAt int64  `json:"lastBuiltAt"`
	Model       string `json:"model"`
	VectorDim   int    `json:"vectorDim"`
}

// shardPath returns the logical storage path for a project/class shard,
// without the trailing JSON/binary suffix — callers append "meta",
// "class.docs" for JSON files, or use PutRaw/GetRaw with ".vec.bin" for
// the binary vector blob.
func shardPath(projectKey, className string) []string {
	return []string{projectKey, "vector", className}
}

// loadShard reads the durable meta.json/class.docs.json/class.vec.bin
// triplet for one project/class. A missing shard is not an error — it
// returns an empty shard. A count mismatch between docs and vectors is
// logged and the shorter length is authoritative, per spec.
func loadShard(ctx context.Context, st *storage.Storage, projectKey, className string) ([]types.VectorFragment, shardMeta, error) {
	base := shardPath(projectKey, className)

	var meta shardMeta
	if err := st.Get(ctx, append(append([]string{}, base...), "meta"), &meta); err != nil && err != storage.ErrNotFound {
		return nil, meta, apperr.Wrap(apperr.Persistence, "read shard meta", err)
	}

	var docs []types.VectorFragment
	if err := st.Get(ctx, append(append([]string{}, base...), "class.docs"), &docs); err != nil && err != storage.ErrNotFound {
		return nil, meta, apperr.Wrap(apperr.Persistence, "read shard docs", err)
	}

	dim := meta.VectorDim
	if dim <= 0 {
		dim = 1
	}

	raw, err := st.GetRaw(ctx, append([]string{}, base...), "/class.vec.bin")
	if err != nil && err != storage.ErrNotFound {
		return nil, meta, apperr.Wrap(apperr.Persistence, "read shard vectors", err)
	}

	vecCount := len(raw) / (dim * 4)
	if vecCount != len(docs) {
		logging.Warn().
			Str("project", projectKey).
			Str("class", className).
			Int("docs", len(docs)).
			Int("vectors", vecCount).
			Msg("vector shard count mismatch on load; truncating to shorter length")
		n := vecCount
		if len(docs) < n {
			n = len(docs)
		}
		docs = docs[:n]
	}

	for i := range docs {
		docs[i].Vector = decodeVector(raw, i, dim)
	}

	return docs, meta, nil
}

// saveShard persists the durable triplet for one project/class, rewriting
// all three files atomically (each individually, via storage.Put/PutRaw's
// write-temp+rename).
func saveShard(ctx context.Context, st *storage.Storage, projectKey, className string, docs []types.VectorFragment, model string, dim int, builtAt int64) error {
	base := shardPath(projectKey, className)

	meta := shardMeta{LastBuiltAt: builtAt, Model: model, VectorDim: dim}
	if err := st.Put(ctx, append(append([]string{}, base...), "meta"), meta); err != nil {
		return apperr.Wrap(apperr.Persistence, "write shard meta", err)
	}

	// docs[i] <-> vec[i*dim:(i+1)*dim] invariant: write both from the same
	// slice order, never independently re-sorted between calls.
	docsOut := make([]types.VectorFragment, len(docs))
	vecBlob := make([]byte, 0, len(docs)*dim*4)
	for i, d := range docs {
		docsOut[i] = d
		docsOut[i].Vector = nil // never inline in class.docs.json
		vecBlob = appendVector(vecBlob, d.Vector, dim)
	}

	if err := st.Put(ctx, append(append([]string{}, base...), "class.docs"), docsOut); err != nil {
		return apperr.Wrap(apperr.Persistence, "write shard docs", err)
	}
	if err := st.PutRaw(ctx, append([]string{}, base...), "/class.vec.bin", vecBlob); err != nil {
		return apperr.Wrap(apperr.Persistence, "write shard vectors", err)
	}
	return nil
}

func appendVector(blob []byte, v []float32, dim int) []byte {
	row := make([]byte, dim*4)
	for i := 0; i < dim; i++ {
		var f float32
		if i < len(v) {
			f = v[i]
		}
		binary.LittleEndian.PutUint32(row[i*4:], math.Float32bits(f))
	}
	return append(blob, row...)
}

func decodeVector(blob []byte, index, dim int) []float32 {
	start := index * dim * 4
	end := start + dim*4
	if start < 0 || end > len(blob) {
		return nil
	}
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(blob[start+i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
