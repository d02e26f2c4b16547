package rewrite

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/webarchive-tools/wbrewrite/wburl"
)

// CSS scans cssText for url(...) and @import "..." tokens, rewrites each
// captured URL via rewriter with no modifier override, and writes the
// result to w. All other characters are emitted verbatim. Matching is
// case-insensitive for keywords; whitespace inside url(...) is preserved
// around the captured URL when rebuilding output.
func CSS(w io.Writer, cssText string, rewriter URLRewriteFunc) error {
	input := parse.NewInputString(cssText)
	lc := &cssRewriter{
		input:       input,
		lexer:       css.NewLexer(input),
		w:           w,
		urlRewriter: rewriter,
	}
	for {
		tt, text := lc.next()
		switch tt {
		case css.ErrorToken:
			return ignoreEOF(lc.lexer.Err())
		case css.URLToken:
			if err := lc.handleURLToken(text); err != nil {
				return err
			}
		case css.AtKeywordToken:
			if bytes.EqualFold(text, []byte("@import")) {
				if err := lc.processImport(); err != nil {
					return err
				}
			} else if err := lc.copy(); err != nil {
				return err
			}
		default:
			if err := lc.copy(); err != nil {
				return err
			}
		}
	}
}

func ignoreEOF(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

type cssRewriter struct {
	input            *parse.Input
	lexer            *css.Lexer
	w                io.Writer
	startPos, endPos int
	urlRewriter      URLRewriteFunc

	pushedBack bool
	tt         css.TokenType
	text       []byte
}

func (lc *cssRewriter) next() (css.TokenType, []byte) {
	if lc.pushedBack {
		lc.pushedBack = false
		return lc.tt, lc.text
	}
	lc.startPos = lc.input.Offset()
	tt, data := lc.lexer.Next()
	lc.endPos = lc.input.Offset()
	lc.tt, lc.text = tt, data
	return tt, data
}

func (lc *cssRewriter) pushBack() {
	lc.pushedBack = true
}

func (lc *cssRewriter) copy() error {
	_, err := lc.w.Write(lc.rawData())
	return err
}

func (lc *cssRewriter) rawData() []byte {
	return lc.input.Bytes()[lc.startPos:lc.endPos]
}

// processImport handles an @import at-rule: it copies the keyword and the
// whitespace after it, then rewrites the string-or-url() token naming the
// imported sheet. A string it cannot decode is copied unchanged.
func (lc *cssRewriter) processImport() error {
	if err := lc.copy(); err != nil {
		return err
	}
	tt, _ := lc.next()
	switch tt {
	case css.ErrorToken:
		return ignoreEOF(lc.lexer.Err())
	case css.WhitespaceToken:
		if err := lc.copy(); err != nil {
			return err
		}
	default:
		lc.pushBack()
		return nil
	}

	tt, text := lc.next()
	switch tt {
	case css.ErrorToken:
		return ignoreEOF(lc.lexer.Err())
	case css.StringToken:
		scanner, err := newCSSStringScanner(text)
		if err != nil {
			return lc.copy()
		}
		value, consumed, err := scanner.decode()
		if err != nil || consumed != len(text) {
			return lc.copy()
		}
		rewritten := lc.urlRewriter(value, wburl.ModNone)
		_, err = lc.w.Write(cssQuoteString(rewritten, text[0]))
		return err
	case css.URLToken:
		return lc.handleURLToken(text)
	default:
		lc.pushBack()
		return nil
	}
}

// handleURLToken rewrites the value carried by a url(...) token, quoted
// or bare, preserving whitespace inside the parens around it and the
// value's original quote style. A bare value is re-quoted with double
// quotes only if the rewritten URL contains whitespace, a quote, a paren
// or a backslash. A token it cannot decode is copied unchanged.
func (lc *cssRewriter) handleURLToken(text []byte) error {
	if len(text) < 5 || !bytes.EqualFold(text[:4], []byte("url(")) || text[len(text)-1] != ')' {
		return lc.copy()
	}
	inner := text[4 : len(text)-1]
	leading := len(inner) - len(bytes.TrimLeft(inner, " \t\n"))
	value := inner[leading:]
	if len(value) == 0 {
		return lc.copy()
	}

	var (
		decoded  string
		valueLen int
		err      error
	)
	bare := value[0] != '"' && value[0] != '\''
	quote := byte('"')
	if !bare {
		quote = value[0]
		var scanner *cssStringScanner
		scanner, err = newCSSStringScanner(value)
		if err != nil {
			return lc.copy()
		}
		decoded, valueLen, err = scanner.decode()
		if err != nil {
			return lc.copy()
		}
	} else {
		trimmed := bytes.TrimRight(value, " \t\n")
		decoded = string(trimmed)
		valueLen = len(trimmed)
	}

	rewritten := lc.urlRewriter(decoded, wburl.ModNone)
	out := cssQuoteString(rewritten, quote)
	if bare && !strings.ContainsAny(rewritten, " \t\n\"'()\\") {
		out = []byte(rewritten)
	}
	urlStart := 4 + leading
	urlEnd := urlStart + valueLen
	return multiWrite(lc.w, text[:urlStart], out, text[urlEnd:])
}

func multiWrite(w io.Writer, bufs ...[]byte) error {
	for _, buf := range bufs {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// cssQuoteString re-encodes value as a CSS string token delimited by quote
// (' or "), hex-escaping newlines, that quote character and backslashes.
// https://drafts.csswg.org/css-syntax-3/#consume-string-token
func cssQuoteString(value string, quote byte) []byte {
	var out bytes.Buffer
	out.Grow(len(value) + 2)
	out.WriteByte(quote)
	for _, r := range value {
		switch r {
		case '\n', rune(quote), '\\':
			fmt.Fprintf(&out, `\%x `, r)
		default:
			out.WriteRune(r)
		}
	}
	out.WriteByte(quote)
	return out.Bytes()
}

// cssStringScanner decodes a single CSS string token (the bytes between
// and including its opening and closing quote), tracking how many input
// bytes it has consumed so a caller scanning a larger token, such as
// url(...), can pick back up right after it.
// https://drafts.csswg.org/css-syntax-3/#consume-string-token
type cssStringScanner struct {
	data  []byte
	pos   int
	quote byte
}

func newCSSStringScanner(data []byte) (*cssStringScanner, error) {
	if len(data) == 0 || (data[0] != '"' && data[0] != '\'') {
		return nil, fmt.Errorf("rewrite: css: string token missing opening quote: %q", data)
	}
	return &cssStringScanner{data: data, pos: 1, quote: data[0]}, nil
}

// decode consumes up to and including the closing quote and returns the
// unescaped value plus the total number of bytes consumed, quotes
// included.
func (s *cssStringScanner) decode() (string, int, error) {
	var out strings.Builder
	for s.pos < len(s.data) {
		r, width := utf8.DecodeRune(s.data[s.pos:])
		switch {
		case width == 1 && r == utf8.RuneError:
			return "", s.pos, fmt.Errorf("rewrite: css: invalid utf8 at offset %d", s.pos)
		case r == rune(s.quote):
			s.pos += width
			return out.String(), s.pos, nil
		case r == '\n':
			return "", s.pos, fmt.Errorf("rewrite: css: string ends at a bare newline")
		case r == '\\':
			s.pos += width
			if err := s.decodeEscape(&out); err != nil {
				return "", s.pos, err
			}
		default:
			out.WriteRune(r)
			s.pos += width
		}
	}
	return "", s.pos, fmt.Errorf("rewrite: css: string never reaches a closing quote")
}

// decodeEscape consumes one escape sequence at s.pos, the byte(s)
// immediately following a backslash already consumed by the caller.
func (s *cssStringScanner) decodeEscape(out *strings.Builder) error {
	if s.pos >= len(s.data) {
		return fmt.Errorf("rewrite: css: dangling backslash at end of string")
	}
	r, width := utf8.DecodeRune(s.data[s.pos:])
	switch {
	case width == 1 && r == utf8.RuneError:
		return fmt.Errorf("rewrite: css: invalid utf8 after backslash")
	case r == '\n':
		// Escaped newline is a line continuation; it contributes nothing.
		s.pos += width
		return nil
	case isHexDigitRune(r):
		s.decodeHexEscape(out)
		return nil
	default:
		out.WriteRune(r)
		s.pos += width
		return nil
	}
}

// decodeHexEscape consumes 1 to 6 hex digits starting at s.pos (the
// caller guarantees at least one), plus one trailing whitespace byte
// when present, and writes the code point they spell out.
func (s *cssStringScanner) decodeHexEscape(out *strings.Builder) {
	start := s.pos
	for s.pos < len(s.data) && s.pos-start < 6 {
		r, width := utf8.DecodeRune(s.data[s.pos:])
		if !isHexDigitRune(r) {
			break
		}
		s.pos += width
	}
	code, err := strconv.ParseUint(string(s.data[start:s.pos]), 16, 32)
	if err != nil {
		code = uint64(utf8.RuneError)
	}
	if r, width := utf8.DecodeRune(s.data[s.pos:]); isCSSWhitespaceRune(r) {
		s.pos += width
	}
	out.WriteRune(rune(code))
}

func isHexDigitRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isCSSWhitespaceRune(r rune) bool {
	return r == '\n' || r == '\t' || r == ' '
}
