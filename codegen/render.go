package codegen

import (
	"bytes"
	"strings"
)

const indentUnit = "    "

// Render prints a tree and indents it by brace depth. Preprocessor lines keep
// the column they were written at.
func Render(g Gen) []byte {
	return Indent(g.Append(nil))
}

func RenderString(g Gen) string {
	return string(Render(g))
}

func Indent(src []byte) []byte {
	var (
		out   bytes.Buffer
		depth int
	)
	for _, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			out.WriteByte('\n')
			continue
		}
		nOpen, nClose, leading := braces(trimmed)
		d := depth - leading
		if d < 0 {
			d = 0
		}
		if trimmed[0] == '#' {
			if strings.HasPrefix(trimmed, "#define") && len(line) > len(trimmed) {
				d = 1
			} else {
				d = 0
			}
		}
		for i := 0; i < d; i++ {
			out.WriteString(indentUnit)
		}
		if trimmed == "*" || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "*/") {
			// block comment continuation
			out.WriteByte(' ')
		}
		out.WriteString(trimmed)
		out.WriteByte('\n')
		depth += nOpen - nClose
		if depth < 0 {
			depth = 0
		}
	}
	res := out.Bytes()
	// Split leaves one empty element after the final newline
	if len(res) > 0 && !bytes.HasSuffix(src, []byte("\n")) {
		res = res[:len(res)-1]
	} else if bytes.HasSuffix(res, []byte("\n\n")) {
		res = res[:len(res)-1]
	}
	return res
}

// braces counts braces outside string literals and comments; leading is the
// number of closing braces that begin the line.
func braces(line string) (nOpen, nClose, leading int) {
	var (
		inString byte
		atStart  = true
		prev     byte
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inString != 0:
			if c == inString && prev != '\\' {
				inString = 0
			}
		case c == '"' || c == '\'':
			inString = c
			atStart = false
		case c == '/' && i+1 < len(line) && (line[i+1] == '/' || line[i+1] == '*'):
			return
		case c == '{':
			nOpen++
			atStart = false
		case c == '}':
			nClose++
			if atStart {
				leading++
			}
		case c != ' ' && c != '\t':
			atStart = false
		}
		prev = c
	}
	return
}
