package agents

import (
	"fmt"
	"strings"

	"datanerd/internal/types"
)

// extractJSON extracts a JSON object or array from a potentially
// mixed-format model response (prose, markdown fences, trailing text).
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		start = strings.Index(text, "[")
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	startChar := text[start]
	endChar := byte('}')
	if startChar == '[' {
		endChar = ']'
	}

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == startChar {
			depth++
		} else if ch == endChar {
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// clamp01 bounds a score into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// profileSummary renders a compact textual description of the data shape
// for inclusion in prompts.
func profileSummary(p *types.DataProfile) string {
	if p == nil {
		return "(no profile available)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rows: %d\nColumns (%d):\n", p.RowCount, len(p.Columns))
	for _, col := range p.Columns {
		fmt.Fprintf(&b, "  - %s (%s)\n", col.Name, col.Kind)
	}
	if len(p.SampleRows) > 0 {
		b.WriteString("Sample rows:\n")
		for _, row := range p.SampleRows {
			fmt.Fprintf(&b, "  %s\n", strings.Join(row, " | "))
		}
	}
	return b.String()
}

// contextBlock renders retrieved chunks for prompt grounding.
func contextBlock(chunks []types.ContextChunk) string {
	if len(chunks) == 0 {
		return "(no retrieved context)"
	}
	var b strings.Builder
	for i, ch := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(ch.Text))
	}
	return b.String()
}
