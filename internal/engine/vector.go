package engine

import (
	"math"

	"github.com/tidwall/gjson"
)

// cosineSimilarity scores two equal-length embeddings. Brute-force, no
// ANN index: the spec's vector search is deliberately a candidate-set
// rescore, not a standalone nearest-neighbor structure (see Non-goals).
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// extractEmbedding pulls a float32 array out of body[field]. Returns ok=false
// when the field is missing, not an array, or its length doesn't match want.
func extractEmbedding(body []byte, field string, want int) ([]float32, bool) {
	res := gjson.GetBytes(body, field)
	if !res.IsArray() {
		return nil, false
	}
	arr := res.Array()
	if want > 0 && len(arr) != want {
		return nil, false
	}
	out := make([]float32, len(arr))
	for i, v := range arr {
		out[i] = float32(v.Float())
	}
	return out, true
}
