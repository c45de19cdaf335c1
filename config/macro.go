package config

import (
	"strconv"
	"strings"
	"time"
)

// ExpandMacros substitutes the date and tag macros in TAG and LOG_FILE.
// Both values get two passes so %TAG% can reference already-expanded tokens.
func (c *Config) ExpandMacros(now time.Time) {
	c.Tag = expandMacros(c.Tag, now, c.Tag)
	c.Tag = expandMacros(c.Tag, now, c.Tag)

	c.LogFile = expandMacros(c.LogFile, now, c.Tag)
	c.LogFile = expandMacros(c.LogFile, now, c.Tag)
}

func expandMacros(s string, now time.Time, tag string) string {
	r := strings.NewReplacer(
		"%DOW%", now.Format("Mon"),
		"%DOM%", now.Format("02"),
		"%MOY%", now.Format("01"),
		"%CYR%", now.Format("2006"),
		"%NOW%", strconv.FormatInt(now.Unix(), 10),
		"%TAG%", tag,
	)
	return r.Replace(s)
}
