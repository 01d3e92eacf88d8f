package pipeline

import "github.com/sells-group/caselaw-cli/internal/model"

// Dedup collapses opinions sharing a DedupKey. The last occurrence wins but
// takes the position of the first, so output order follows first sighting.
func Dedup(ops []model.Opinion) []model.Opinion {
	index := make(map[string]int, len(ops))
	out := make([]model.Opinion, 0, len(ops))
	for _, op := range ops {
		key := op.DedupKey()
		if i, ok := index[key]; ok {
			out[i] = op
			continue
		}
		index[key] = len(out)
		out = append(out, op)
	}
	return out
}
