// Package tokenizer splits one line of EDASM source text into its
// label/mnemonic/operand/comment fields. It does no semantic
// interpretation at all — that is the assembler's job once it has a
// sequence of SourceLine values to walk.
package tokenizer

import "strings"

// SourceLine is one parsed line of assembler source.
type SourceLine struct {
	LineNumber int
	Label      string
	Mnemonic   string // canonicalized to upper case
	Operand    string
	Comment    string
	Raw        string
}

func isLabelStart(c byte) bool {
	return c == '_' || c == '@' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isLabelChar(c byte) bool {
	return isLabelStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

// ParseLine tokenizes one line of source text.
func ParseLine(text string, lineNumber int) SourceLine {
	line := SourceLine{LineNumber: lineNumber, Raw: text}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		line.Comment = text
		return line
	}
	if text[0] == '*' || text[0] == ';' {
		line.Comment = text
		return line
	}

	pos := 0
	if !isSpace(text[0]) && isLabelStart(text[0]) {
		start := pos
		for pos < len(text) && isLabelChar(text[pos]) {
			pos++
		}
		line.Label = text[start:pos]
		if pos < len(text) && text[pos] == ':' {
			pos++
		}
	}

	pos = skipSpaces(text, pos)
	mnemStart := pos
	for pos < len(text) && !isSpace(text[pos]) {
		pos++
	}
	line.Mnemonic = strings.ToUpper(text[mnemStart:pos])

	pos = skipSpaces(text, pos)
	operandEnd := findUnquotedSemicolon(text, pos)
	if operandEnd < 0 {
		line.Operand = strings.TrimRight(text[pos:], " \t")
	} else {
		line.Operand = strings.TrimRight(text[pos:operandEnd], " \t")
		line.Comment = text[operandEnd:]
	}

	return line
}

func skipSpaces(text string, pos int) int {
	for pos < len(text) && isSpace(text[pos]) {
		pos++
	}
	return pos
}

// findUnquotedSemicolon returns the index of the first ';' that isn't
// inside a single- or double-quoted span, starting the scan at pos,
// or -1 if there is none.
func findUnquotedSemicolon(text string, pos int) int {
	inQuote := byte(0)
	for i := pos; i < len(text); i++ {
		c := text[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inQuote = c
		case ';':
			return i
		}
	}
	return -1
}
