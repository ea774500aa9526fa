package tools

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
)

// SQLSafetyCheck names the verdicts produced by CheckSQLSafety.
const SQLSafetyCheck = "sql_safety"

// DestructiveKeywords are rejected anywhere in a query, in any letter case.
var DestructiveKeywords = []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "UPDATE", "INSERT"}

// CheckSQLSafety scans the upper-cased statement for destructive keywords as plain
// substrings, so a column called "updated_at" is rejected too.
func CheckSQLSafety(query string) ports.Verdict {
	upper := strings.ToUpper(query)

	var found []string
	for _, kw := range DestructiveKeywords {
		if strings.Contains(upper, kw) {
			found = append(found, kw)
		}
	}
	if len(found) > 0 {
		return ports.Deny(SQLSafetyCheck, fmt.Sprintf(
			"Security Violation: Destructive SQL commands (%s) are strictly prohibited.",
			strings.Join(found, ", ")))
	}
	return ports.Allow(SQLSafetyCheck)
}
