package google

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"google.golang.org/api/gmail/v1"
)

type bodyFrame struct {
	part   *gmail.MessagePart
	isHTML bool // an ancestor on the chain was text/html
}

// ResolveBody extracts a readable body from a message part tree. Precedence,
// first match wins:
//
//  1. inline body data on the node itself
//  2. the first text/plain child
//  3. the first text/html child, with markup stripped
//  4. each multipart/* child in order, first non-empty result
//
// The walk uses an explicit stack, so tree depth does not grow the call stack.
func ResolveBody(root *gmail.MessagePart) string {
	if root == nil {
		return ""
	}
	stack := []bodyFrame{{part: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if body := resolveChain(f, &stack); body != "" {
			return body
		}
	}
	return ""
}

// resolveChain follows rules 1-3 down from f.part. When it reaches a node
// that only has multipart candidates, those are pushed in reverse so the
// leftmost is tried first.
func resolveChain(f bodyFrame, stack *[]bodyFrame) string {
	part, isHTML := f.part, f.isHTML
	for part != nil {
		if part.Body != nil && part.Body.Data != "" {
			body := decodeBodyData(part.Body.Data)
			if isHTML && body != "" {
				body = stripMarkup(body)
			}
			return body
		}
		if child := firstChild(part.Parts, "text/plain"); child != nil {
			part = child
			continue
		}
		if child := firstChild(part.Parts, "text/html"); child != nil {
			part, isHTML = child, true
			continue
		}
		for i := len(part.Parts) - 1; i >= 0; i-- {
			if p := part.Parts[i]; p != nil && isMultipart(p.MimeType) {
				*stack = append(*stack, bodyFrame{part: p, isHTML: isHTML})
			}
		}
		return ""
	}
	return ""
}

func firstChild(parts []*gmail.MessagePart, mimeType string) *gmail.MessagePart {
	for _, p := range parts {
		if p != nil && strings.EqualFold(p.MimeType, mimeType) {
			return p
		}
	}
	return nil
}

func isMultipart(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "multipart/")
}

// decodeBodyData decodes Gmail body data. Both the URL-safe and the
// standard base64 alphabet are accepted, padded or not. Data that does not
// decode to UTF-8 text yields "".
func decodeBodyData(data string) string {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimRight(data, "="))
	decoded, err := base64.RawStdEncoding.DecodeString(normalized)
	if err != nil || !utf8.Valid(decoded) {
		return ""
	}
	return string(decoded)
}

// stripMarkup returns the text content of an HTML fragment. Block elements
// start a new line, runs of whitespace collapse to one space and script or
// style contents are dropped.
func stripMarkup(s string) string {
	var (
		lines []string
		line  strings.Builder
		skip  int
	)
	flush := func() {
		if l := strings.Join(strings.Fields(line.String()), " "); l != "" {
			lines = append(lines, l)
		}
		line.Reset()
	}

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")
		case html.TextToken:
			if skip == 0 {
				line.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if hiddenElements[tok.DataAtom] {
				if tok.Type == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockElements[tok.DataAtom] {
				flush()
			}
		case html.EndTagToken:
			tok := z.Token()
			if hiddenElements[tok.DataAtom] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockElements[tok.DataAtom] {
				flush()
			}
		}
	}
}

var hiddenElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
	atom.Title:  true,
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Blockquote: true, atom.Br: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Ol: true,
	atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}
