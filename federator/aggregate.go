package federator

import (
	"slices"
	"strconv"

	"github.com/pithecene-io/fedsearch/types"
)

// Aggregate folds per-target results, already in request order, into one
// federation result. TotalCount sums only usable targets. Records of usable
// targets are numbered across the whole result starting at 1 and stamped
// with an origin id "<position>_<target>". The input is not modified.
func Aggregate(requestID string, results []types.TargetResult) *types.FederationResult {
	out := &types.FederationResult{
		RequestID: requestID,
		PerTarget: make([]types.TargetResult, len(results)),
	}
	pos := 1
	for i, r := range results {
		r.ElapsedMs = r.Elapsed.Milliseconds()
		if !r.Usable() {
			r.Records = []types.RawRecord{}
			out.PerTarget[i] = r
			continue
		}
		out.TotalCount += r.RecordCount
		r.Records = slices.Clone(r.Records)
		if r.Records == nil {
			r.Records = []types.RawRecord{}
		}
		for j := range r.Records {
			r.Records[j].GlobalPosition = pos
			r.Records[j].ID = strconv.Itoa(pos) + "_" + r.Name
			pos++
		}
		out.PerTarget[i] = r
	}
	return out
}
