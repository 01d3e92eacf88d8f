package pipeline

import "github.com/sells-group/caselaw-cli/internal/model"

// FilterByPolicy keeps the opinions whose outcome the policy allows,
// preserving order.
func FilterByPolicy(ops []model.Opinion, policy model.Policy) []model.Opinion {
	out := make([]model.Opinion, 0, len(ops))
	for _, op := range ops {
		if policy.Keeps(op.Outcome) {
			out = append(out, op)
		}
	}
	return out
}
