// Package artifacts recovers generated chart files from a finished transcript and
// rewrites their links between the served and the archived form.
package artifacts

import (
	"regexp"
	"sort"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
)

// chartFile matches the last path component ending in the chart extension, for
// results that carry no typed artifact.
var chartFile = regexp.MustCompile(`[^/\\\s*]+\.png`)

// servedLink matches markdown image links pointing at the plots route, optionally
// with a scheme and host.
var servedLink = regexp.MustCompile(`(!\[[^\]\n]*\])\((?:https?://[^)\s/]+)?` +
	regexp.QuoteMeta(internal.PlotsRoute) + `([^)/\s]+\.png)\)`)

// Extract returns the deduplicated, sorted chart filenames produced by chart tool
// results in the transcript. Failed chart results name a file that was never
// written and are skipped.
func Extract(transcript []ports.Turn) []string {
	seen := make(map[string]struct{})
	for _, turn := range transcript {
		for _, r := range turn.ToolResults() {
			if r.Kind != ports.ToolChart {
				continue
			}
			if r.Artifact != "" {
				seen[r.Artifact] = struct{}{}
				continue
			}
			if r.IsError {
				continue
			}
			for _, name := range chartFile.FindAllString(r.Content, -1) {
				seen[name] = struct{}{}
			}
		}
	}

	files := make([]string, 0, len(seen))
	for name := range seen {
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

// ServedURL is the link a live client uses to fetch a chart.
func ServedURL(filename string) string {
	return internal.PlotsRoute + filename
}

// OfflinePath is the link an archived report uses for a chart.
func OfflinePath(filename string) string {
	return internal.OfflinePlotsDir + "/" + filename
}

// Offline rewrites served image links to the given files into relative archive
// paths. Links to other files and non-image links are left alone. Applying it
// twice gives the same result as applying it once.
func Offline(text string, files []string) string {
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f] = true
	}

	return servedLink.ReplaceAllStringFunc(text, func(m string) string {
		sub := servedLink.FindStringSubmatch(m)
		if !known[sub[2]] {
			return m
		}
		return sub[1] + "(" + OfflinePath(sub[2]) + ")"
	})
}
