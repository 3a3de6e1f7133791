package task

import "regexp"

// ansiPattern matches CSI-style ANSI escape sequences, the ones a
// subprocess's progress bars and colored output commonly emit.
var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

// stripANSI removes ANSI escape sequences from line so tracked output
// stays plain text.
func stripANSI(line string) string {
	return ansiPattern.ReplaceAllString(line, "")
}
