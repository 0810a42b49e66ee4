package worker

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	rePct     = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed   = regexp.MustCompile(`\bat\s+([^\s]+)`)
	reETA     = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
	reDest    = regexp.MustCompile(`^\[download\] Destination: (.+)$`)
	reMerge   = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	reAlready = regexp.MustCompile(`^\[download\] (.+) has already been downloaded$`)
)

// Progress is one parsed yt-dlp download progress report.
type Progress struct {
	Percent    float64
	Speed      string
	ETASeconds int
}

// ParseProgressLine extracts percent/speed/ETA from a yt-dlp --newline
// "[download]" line. Returns false for lines that carry no percentage.
func ParseProgressLine(line string) (Progress, bool) {
	l := strings.TrimSpace(line)
	if !strings.HasPrefix(l, "[download]") {
		return Progress{}, false
	}

	m := rePct.FindStringSubmatch(l)
	if len(m) < 2 {
		return Progress{}, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}

	p := Progress{Percent: percent, ETASeconds: -1}
	if m := reSpeed.FindStringSubmatch(l); len(m) > 1 && m[1] != "Unknown" {
		p.Speed = m[1]
	}
	if m := reETA.FindStringSubmatch(l); len(m) > 1 {
		p.ETASeconds = parseClock(m[1])
	}
	return p, true
}

// ParseDestination extracts the output file path from the lines yt-dlp
// prints when it opens, merges, or skips the destination file.
func ParseDestination(line string) (string, bool) {
	l := strings.TrimSpace(line)
	if m := reDest.FindStringSubmatch(l); len(m) > 1 {
		return m[1], true
	}
	if m := reMerge.FindStringSubmatch(l); len(m) > 1 {
		return m[1], true
	}
	if m := reAlready.FindStringSubmatch(l); len(m) > 1 {
		return m[1], true
	}
	return "", false
}

// TitleFromPath derives a display title from an output filename.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return strings.ReplaceAll(base, "_", " ")
}

// parseClock converts "MM:SS" or "HH:MM:SS" to seconds, -1 on anything
// unparsable.
func parseClock(s string) int {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return -1
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return -1
		}
		total = total*60 + n
	}
	return total
}
