package rewrite

import (
	"errors"
	"fmt"
	stdhtml "html"
	"io"
	"regexp"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/html"

	"github.com/webarchive-tools/wbrewrite/wburl"
)

// stateTags are the elements whose body is raw text routed through a
// sub-rewriter instead of being tokenized as markup.
var stateTags = map[string]bool{
	"script": true,
	"style":  true,
}

// headTags gates head-insertion: the bootstrap fragment is held back while
// only these elements have been seen, and flushed the moment anything else
// appears (or once "head" itself opens).
var headTags = map[string]bool{
	"html": true, "head": true, "base": true, "link": true, "meta": true,
	"title": true, "style": true, "script": true, "object": true, "bgsound": true,
}

// rewriteTags maps a lowercased tag name to its attribute -> modifier
// table. An attribute absent from a tag's table, or a tag absent from this
// map entirely, is emitted without any URL rewrite. "head" carries an empty
// table, so none of its attributes are rewritten; every start tag goes
// through the same emission path, and head-insertion checks the tag name
// directly rather than this entry.
var rewriteTags = map[string]map[string]wburl.Modifier{
	"a":          {"href": wburl.ModNone},
	"area":       {"href": wburl.ModNone},
	"base":       {"href": wburl.ModNone},
	"applet":     {"codebase": wburl.ModObject, "archive": wburl.ModObject},
	"blockquote": {"cite": wburl.ModNone},
	"del":        {"cite": wburl.ModNone},
	"ins":        {"cite": wburl.ModNone},
	"q":          {"cite": wburl.ModNone},
	"body":       {"background": wburl.ModImage},
	"embed":      {"src": wburl.ModObject},
	"head":       {},
	"iframe":     {"src": wburl.ModIframe},
	"img":        {"src": wburl.ModImage},
	"input":      {"src": wburl.ModImage},
	"form":       {"action": wburl.ModNone},
	"frame":      {"src": wburl.ModFrame},
	"link":       {"href": wburl.ModObject},
	"meta":       {"content": wburl.ModNone},
	"object":     {"codebase": wburl.ModObject, "data": wburl.ModObject},
	"ref":        {"href": wburl.ModObject},
	"script":     {"src": wburl.ModScript},
	"div":        {"data-src": wburl.ModNone, "data-uri": wburl.ModNone},
	"li":         {"data-src": wburl.ModNone, "data-uri": wburl.ModNone},
}

// metaRefreshRe captures the "<delay>;url=" prefix verbatim (including its
// original case and spacing) and the URL portion that follows it. Only the
// captured URL is rewritten; the prefix is re-emitted unchanged.
var metaRefreshRe = regexp.MustCompile(`(?i)^(\s*\d+\s*;\s*url\s*=\s*)(.*)$`)

// Options configures a Rewriter.
type Options struct {
	// URLRewriter rewrites URLs found in attributes, inline CSS/JS, and
	// meta-refresh content. Required.
	URLRewriter URLRewriteFunc
	// BaseSetter is called with the decoded href of every <base> tag
	// encountered whose href is non-empty, so the caller's UrlRewriter can move its resolution
	// base. May be nil.
	BaseSetter func(value string)
	// HeadInsert is an optional fragment emitted once, at the point the
	// document is known to have left its head section.
	HeadInsert string
	// JSRewrite defaults to JS.
	JSRewrite func(string, URLRewriteFunc) string
	// CSSRewrite defaults to CSS.
	CSSRewrite func(io.Writer, string, URLRewriteFunc) error
	// Output receives rewritten bytes as they are produced. Required.
	Output io.Writer
}

func (o *Options) setDefaults() {
	if o.JSRewrite == nil {
		o.JSRewrite = JS
	}
	if o.CSSRewrite == nil {
		o.CSSRewrite = CSS
	}
	if o.BaseSetter == nil {
		o.BaseSetter = func(string) {}
	}
}

// Rewriter is a streaming HTML tokenizer/rewriter. Feed document bytes
// through Write, then call Close to flush any unterminated <script>/<style>
// body and release resources. Not safe for concurrent use; wrap one
// instance per document.
type Rewriter struct {
	opts Options
	pw   *io.PipeWriter
	done chan error
}

// New constructs a Rewriter bound to opts.
func New(opts Options) *Rewriter {
	opts.setDefaults()
	pr, pw := io.Pipe()
	r := &Rewriter{opts: opts, pw: pw, done: make(chan error, 1)}
	go func() {
		r.done <- runRewrite(pr, opts)
	}()
	return r
}

// Write feeds a chunk of document bytes to the rewriter. It blocks only
// until the tokenizer has consumed the chunk.
func (r *Rewriter) Write(p []byte) (int, error) {
	return r.pw.Write(p)
}

// Close signals end-of-document, causing any open <script>/<style> to be
// auto-closed, and waits for the tokenizer to finish. Call it exactly once,
// after the last Write.
func (r *Rewriter) Close() error {
	_ = r.pw.Close()
	return <-r.done
}

func runRewrite(pr *io.PipeReader, opts Options) error {
	input := parse.NewInput(pr)
	s := &rewriteState{
		input:      input,
		lexer:      html.NewLexer(input),
		out:        opts.Output,
		opts:       opts,
		headInsert: opts.HeadInsert,
	}
	err := s.run()
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	// Closing the read side with the result unblocks any Write still in
	// flight with the same error the tokenizer saw (nil on success).
	pr.CloseWithError(err)
	return err
}

type rewriteState struct {
	input *parse.Input
	lexer *html.Lexer
	out   io.Writer
	opts  Options

	parseContext string // "", "script", or "style"
	headInsert   string

	startPos, endPos int
}

func (s *rewriteState) next() (html.TokenType, []byte) {
	s.startPos = s.input.Offset()
	tt, data := s.lexer.Next()
	s.endPos = s.input.Offset()
	return tt, data
}

func (s *rewriteState) rawData() []byte {
	return s.input.Bytes()[s.startPos:s.endPos]
}

func (s *rewriteState) copyRaw() error {
	_, err := s.out.Write(s.rawData())
	return err
}

func (s *rewriteState) run() error {
	for {
		tt, data := s.next()
		switch tt {
		case html.ErrorToken:
			err := s.lexer.Err()
			if errors.Is(err, io.EOF) {
				return s.close()
			}
			return err
		case html.StartTagToken:
			if err := s.handleStartTag(s.lexer.Text()); err != nil {
				return err
			}
		case html.EndTagToken:
			if err := s.handleEndTag(); err != nil {
				return err
			}
		case html.TextToken:
			if err := s.handleText(data); err != nil {
				return err
			}
		default:
			// Comments, doctypes and anything else the lexer surfaces
			// pass through with their original delimiters.
			if err := s.copyRaw(); err != nil {
				return err
			}
		}
	}
}

// close writes the missing end tag for an unterminated <script> or <style>.
// Its body has already gone through the matching sub-rewriter as a text
// token, so only the end tag is added here.
func (s *rewriteState) close() error {
	if s.parseContext != "" {
		if _, err := io.WriteString(s.out, "</"+s.parseContext+">"); err != nil {
			return err
		}
		s.parseContext = ""
	}
	return nil
}

func (s *rewriteState) pendingHeadInsert() bool {
	return s.headInsert != ""
}

func (s *rewriteState) flushHeadInsert() error {
	if s.headInsert == "" {
		return nil
	}
	_, err := io.WriteString(s.out, s.headInsert)
	s.headInsert = ""
	return err
}

func (s *rewriteState) urlRewrite(value string, mod wburl.Modifier) string {
	if s.opts.URLRewriter == nil {
		return value
	}
	return s.opts.URLRewriter(value, mod)
}

type tagAttr struct {
	name     string
	value    string
	hasValue bool
}

// collectAttrs reads AttributeToken entries until the start tag closes,
// returning the decoded attributes in source order plus whether the tag is
// self-closing.
func (s *rewriteState) collectAttrs() ([]tagAttr, bool, error) {
	var attrs []tagAttr
	for {
		tt, _ := s.next()
		switch tt {
		case html.AttributeToken:
			name := strings.ToLower(string(s.lexer.Text()))
			value, hasValue := decodeAttrVal(s.lexer.AttrVal())
			attrs = append(attrs, tagAttr{name: name, value: value, hasValue: hasValue})
		case html.StartTagCloseToken:
			return attrs, false, nil
		case html.StartTagVoidToken:
			return attrs, true, nil
		case html.ErrorToken:
			err := s.lexer.Err()
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return attrs, false, err
		default:
			return attrs, false, fmt.Errorf("rewrite: unexpected token %v inside start tag", tt)
		}
	}
}

func decodeAttrVal(raw []byte) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	if raw[0] == '"' || raw[0] == '\'' {
		if len(raw) < 2 {
			return "", true
		}
		return stdhtml.UnescapeString(string(raw[1 : len(raw)-1])), true
	}
	return stdhtml.UnescapeString(string(raw)), true
}

func hasHTTPEquivRefresh(attrs []tagAttr) bool {
	for _, a := range attrs {
		if a.name == "http-equiv" && strings.EqualFold(strings.TrimSpace(a.value), "refresh") {
			return true
		}
	}
	return false
}

func rewriteMetaRefresh(content string, rewrite URLRewriteFunc) string {
	m := metaRefreshRe.FindStringSubmatch(content)
	if m == nil {
		return content
	}
	return m[1] + rewrite(m[2], wburl.ModNone)
}

func emitAttr(w io.Writer, name, value string) error {
	_, err := fmt.Fprintf(w, " %s=\"%s\"", name, stdhtml.EscapeString(value))
	return err
}

func (s *rewriteState) handleStartTag(tagRaw []byte) error {
	tag := strings.ToLower(string(tagRaw))

	if stateTags[tag] && s.parseContext == "" {
		s.parseContext = tag
	} else if s.pendingHeadInsert() && s.parseContext == "" && !headTags[tag] {
		if err := s.flushHeadInsert(); err != nil {
			return err
		}
	}

	attrs, selfClosing, err := s.collectAttrs()
	if err != nil {
		return err
	}

	mods, inTable := rewriteTags[tag]
	isRefreshMeta := tag == "meta" && hasHTTPEquivRefresh(attrs)

	if _, err := io.WriteString(s.out, "<"+tag); err != nil {
		return err
	}
	for _, a := range attrs {
		value := a.value
		switch {
		case strings.HasPrefix(strings.ToLower(value), "javascript:") || strings.HasPrefix(a.name, "on"):
			value = s.opts.JSRewrite(value, s.urlRewrite)
		case a.name == "style":
			var sb strings.Builder
			if err := s.opts.CSSRewrite(&sb, value, s.urlRewrite); err != nil {
				return err
			}
			value = sb.String()
		case tag == "meta" && a.name == "content" && isRefreshMeta:
			value = rewriteMetaRefresh(value, s.urlRewrite)
		default:
			if tag == "base" && a.name == "href" && value != "" {
				s.opts.BaseSetter(value)
			}
			if inTable {
				if mod, ok := mods[a.name]; ok {
					value = s.urlRewrite(value, mod)
				}
			}
		}
		if !a.hasValue {
			value = ""
		}
		if err := emitAttr(s.out, a.name, value); err != nil {
			return err
		}
	}
	closer := ">"
	if selfClosing {
		closer = "/>"
	}
	if _, err := io.WriteString(s.out, closer); err != nil {
		return err
	}

	if tag == "head" && s.pendingHeadInsert() && s.parseContext == "" {
		if err := s.flushHeadInsert(); err != nil {
			return err
		}
	}
	return nil
}

func (s *rewriteState) handleEndTag() error {
	tag := strings.ToLower(string(s.lexer.Text()))
	if tag == s.parseContext {
		s.parseContext = ""
	}
	_, err := io.WriteString(s.out, "</"+tag+">")
	return err
}

func (s *rewriteState) handleText(data []byte) error {
	text := string(data)
	switch s.parseContext {
	case "script":
		_, err := io.WriteString(s.out, s.opts.JSRewrite(text, s.urlRewrite))
		return err
	case "style":
		return s.opts.CSSRewrite(s.out, text, s.urlRewrite)
	default:
		_, err := io.WriteString(s.out, text)
		return err
	}
}
