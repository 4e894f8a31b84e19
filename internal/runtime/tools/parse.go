package tools

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var columnSeparator = regexp.MustCompile(`\s{2,}`)

// jsonField returns the first non-empty string value of any key found in the
// JSON objects of output. Output may be JSON lines or a single JSON array.
func jsonField(output string, keys ...string) string {
	for _, doc := range jsonDocuments(output) {
		for _, key := range keys {
			if v := doc.Get(key); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return ""
}

// jsonDocuments yields every JSON object in output, in order.
func jsonDocuments(output string) []gjson.Result {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "[") && gjson.Valid(trimmed) {
		var docs []gjson.Result
		gjson.Parse(trimmed).ForEach(func(_, value gjson.Result) bool {
			if value.IsObject() {
				docs = append(docs, value)
			}
			return true
		})
		return docs
	}
	var docs []gjson.Result
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
			continue
		}
		docs = append(docs, gjson.Parse(line))
	}
	return docs
}

// nonEmptyLines splits output into trimmed, non-empty lines.
func nonEmptyLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// splitColumns splits a table row on runs of two or more spaces.
func splitColumns(line string) []string {
	var cols []string
	for _, col := range columnSeparator.Split(strings.TrimSpace(line), -1) {
		if col = strings.TrimSpace(col); col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}

// parseSessionTable reads "ID  Title  Updated" rows. Separator rows and a
// header row whose first column is "ID" are skipped.
func parseSessionTable(output string) []SessionInfo {
	var sessions []SessionInfo
	for _, line := range nonEmptyLines(output) {
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "─") {
			continue
		}
		cols := splitColumns(line)
		if len(cols) < 2 {
			continue
		}
		if first := strings.ToLower(cols[0]); first == "id" || first == "session id" {
			continue
		}
		info := SessionInfo{ID: cols[0], Title: cols[1]}
		if len(cols) > 2 {
			info.UpdatedAt = cols[2]
		}
		sessions = append(sessions, info)
	}
	return sessions
}
