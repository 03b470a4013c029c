package shell

import (
	"errors"
	"strings"
)

// Syntax errors reported by Tokenize.
var (
	ErrUnterminatedQuote = errors.New("unexpected EOF while looking for matching quote")
	ErrMissingTarget     = errors.New("syntax error near unexpected token `newline'")
)

// Token is one word of a command line.
type Token struct {
	Text string
	// Quoted is set when any part of the word was quoted; quoted words are
	// never glob expanded.
	Quoted bool
}

// Redirect is an output redirection.
type Redirect struct {
	Target string
	Append bool
}

// Line is a tokenized command line.
type Line struct {
	Args     []Token
	Redirect *Redirect
}

// Words returns the argument texts.
func (l Line) Words() []string {
	out := make([]string, len(l.Args))
	for i, t := range l.Args {
		out[i] = t.Text
	}
	return out
}

// Tokenize splits a command line on whitespace outside single and double
// quotes. Quote characters are consumed. ">" and ">>" outside quotes are
// redirection operators even when attached to a word; the word after one
// is the destination. Words after the destination are further arguments.
func Tokenize(input string) (Line, error) {
	var (
		line    Line
		cur     strings.Builder
		inWord  bool
		quoted  bool
		quote   rune
		pending *Redirect // operator seen, waiting for its target
	)

	flush := func() {
		if !inWord {
			return
		}
		tok := Token{Text: cur.String(), Quoted: quoted}
		if pending != nil {
			pending.Target = tok.Text
			line.Redirect = pending
			pending = nil
		} else {
			line.Args = append(line.Args, tok)
		}
		cur.Reset()
		inWord, quoted = false, false
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)

		case r == '\'' || r == '"':
			quote = r
			inWord, quoted = true, true

		case r == ' ' || r == '\t':
			flush()

		case r == '>':
			flush()
			if pending != nil {
				return Line{}, errors.New("syntax error near unexpected token `>'")
			}
			pending = &Redirect{}
			if i+1 < len(runes) && runes[i+1] == '>' {
				pending.Append = true
				i++
			}

		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return Line{}, ErrUnterminatedQuote
	}
	flush()
	if pending != nil {
		return Line{}, ErrMissingTarget
	}
	return line, nil
}
