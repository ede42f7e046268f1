// Package markup turns stored rich-text HTML into plain text for matching and
// pulls @mentions out of it.
package markup

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// StripTags returns the text content of an HTML fragment with runs of
// whitespace collapsed to one space. Adjacent block elements are separated by
// a space; script and style bodies are dropped.
func StripTags(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return collapseSpace(content)
	}

	tokenizer := html.NewTokenizer(strings.NewReader(content))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep what was read.
			return collapseSpace(b.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isRawText(name) {
				skip++
			}
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isRawText(name) && skip > 0 {
				skip--
			}
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isRawText(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

func isBlock(name []byte) bool {
	switch string(name) {
	case "p", "div", "br", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "pre", "tr", "td", "th", "hr", "section", "article":
		return true
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var mentionPattern = regexp.MustCompile(`(^|[^\w@.])@([A-Za-z0-9_][A-Za-z0-9_.-]{0,38})`)

// Mentions returns the distinct usernames mentioned as @name in the text of
// content, lower-cased, in order of first appearance.
func Mentions(content string) []string {
	text := StripTags(content)
	seen := make(map[string]struct{})
	var names []string
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(strings.TrimRight(match[2], ".-"))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// NewMentions returns the mentions present in after but not in before.
func NewMentions(before, after string) []string {
	previous := make(map[string]struct{})
	for _, name := range Mentions(before) {
		previous[name] = struct{}{}
	}
	var added []string
	for _, name := range Mentions(after) {
		if _, ok := previous[name]; !ok {
			added = append(added, name)
		}
	}
	return added
}
