// Package failure extracts the location of a test failure from a raw
// error stack trace and reads the surrounding source lines.
package failure

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// excerptLines is the number of source lines returned, ending at the
// failing line.
const excerptLines = 3

// positionPattern matches the first ":<line>:<column>" pair on a frame.
var positionPattern = regexp.MustCompile(`:(\d+):(\d+)`)

// Location is the position of a failure inside a spec file.
type Location struct {
	Line    int
	Column  int
	Excerpt string
}

// Details renders the location in the form stored on a failed test outcome.
func (l *Location) Details() string {
	return fmt.Sprintf("Failed at line %d, column %d:\n%s", l.Line, l.Column, l.Excerpt)
}

// Locate finds the first stack frame referencing sourceFile, parses its
// line and column and extracts the source excerpt ending at that line.
// It returns false when the trace has no such frame, the frame carries no
// position, or the source file cannot be read.
func Locate(stack, sourceFile string) (*Location, bool) {
	if stack == "" || sourceFile == "" {
		return nil, false
	}

	line, column, ok := framePosition(stack, sourceFile)
	if !ok {
		return nil, false
	}

	excerpt, ok := readExcerpt(sourceFile, line)
	if !ok {
		return nil, false
	}

	return &Location{
		Line:    line,
		Column:  column,
		Excerpt: excerpt,
	}, true
}

// Process returns the error stack and failure details to store for an
// outcome. Both are empty unless the outcome failed with a stack trace;
// details are empty when the failure could not be located.
func Process(failed bool, stack, sourceFile string) (errorStack, failureDetails string) {
	if !failed || stack == "" {
		return "", ""
	}

	loc, ok := Locate(stack, sourceFile)
	if !ok {
		return stack, ""
	}

	return stack, loc.Details()
}

// framePosition returns the line and column of the first frame that
// mentions sourceFile.
func framePosition(stack, sourceFile string) (int, int, bool) {
	for _, frame := range strings.Split(stack, "\n") {
		if !strings.Contains(frame, sourceFile) {
			continue
		}

		// First match wins, even when it carries no position.
		m := positionPattern.FindStringSubmatch(frame)
		if m == nil {
			return 0, 0, false
		}

		line, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, 0, false
		}

		column, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, false
		}

		return line, column, true
	}

	return 0, 0, false
}

// readExcerpt returns up to excerptLines 1-based lines ending at line.
func readExcerpt(path string, line int) (string, bool) {
	if line <= 0 {
		return "", false
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the host framework
	if err != nil {
		return "", false
	}

	lines := strings.Split(string(data), "\n")

	end := min(line, len(lines))
	start := max(line-(excerptLines-1), 1)

	if start > end {
		return "", false
	}

	out := make([]string, 0, end-start+1)
	for _, l := range lines[start-1 : end] {
		out = append(out, strings.TrimSuffix(l, "\r"))
	}

	return strings.Join(out, "\n"), true
}
