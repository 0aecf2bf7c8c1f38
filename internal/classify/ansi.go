package classify

import "regexp"

// Terminal escape sequences emitted by pty-backed children. CSI covers
// colors and cursor movement, OSC covers title/hyperlink sequences, and the
// charset pattern covers the two-byte designators some spinners emit.
var (
	csiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	charsetPattern = regexp.MustCompile(`\x1b[()][0A-B]`)
)

// StripANSI removes VT escape sequences and carriage returns from a line so
// classification rules match the text a human would read.
func StripANSI(s string) string {
	s = csiPattern.ReplaceAllString(s, "")
	s = oscPattern.ReplaceAllString(s, "")
	s = charsetPattern.ReplaceAllString(s, "")

	// Drop remaining C0 controls except tab; \r shows up mid-line when
	// progress bars redraw.
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' || c >= 0x20 {
			out = append(out, c)
		}
	}
	return string(out)
}
