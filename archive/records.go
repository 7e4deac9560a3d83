package archive

import (
	"time"

	"github.com/pithecene-io/fedsearch/types"
)

// toRecordMap flattens one target's result into an archive record. The
// partition fields day and target are included for the Hive layout.
func toRecordMap(result *types.FederationResult, index int, r types.TargetResult, completedAt time.Time) map[string]any {
	m := map[string]any{
		"record_kind":  RecordKind,
		"request_id":   result.RequestID,
		"day":          Day(completedAt),
		"target":       r.Name,
		"target_index": index,
		"kind":         string(r.Kind),
		"count":        r.RecordCount,
		"usable":       r.Usable(),
		"total_count":  result.TotalCount,
		"elapsed_ms":   r.ElapsedMs,
		"completed_at": completedAt.UTC().Format(time.RFC3339Nano),
		"records":      toRawRecordMaps(r.Records),
	}
	if r.RecordSyntax != "" {
		m["record_syntax"] = r.RecordSyntax
		m["syntax_substituted"] = r.SyntaxSubstituted
	}
	if d := r.Diagnostic; d != nil {
		m["diagnostic"] = diagnosticMap(d)
	}
	return m
}

// toRawRecordMaps keeps record payloads as strings; records are text
// formats (XML, line-mode MARC) or opaque bytes the archive never parses.
func toRawRecordMaps(records []types.RawRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m := map[string]any{
			"position":        rec.Position,
			"global_position": rec.GlobalPosition,
			"id":              rec.ID,
			"data":            string(rec.Data),
		}
		if rec.Schema != "" {
			m["schema"] = rec.Schema
		}
		if rec.Diagnostic != nil {
			m["diagnostic"] = diagnosticMap(rec.Diagnostic)
		}
		out = append(out, m)
	}
	return out
}

func diagnosticMap(d *types.Diagnostic) map[string]any {
	m := map[string]any{
		"scope":   string(d.Scope),
		"kind":    string(d.Kind),
		"code":    d.Code,
		"message": d.Message,
	}
	if d.Details != "" {
		m["details"] = d.Details
	}
	return m
}
