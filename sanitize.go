package universalis

import (
	"regexp"
	"strings"
)

// wrapperTags matches the bare wrapper tags that carry no meaning for the chat renderer.
var wrapperTags = regexp.MustCompile(`<(a|article|p|br|li|sup|sub|abbr|small|ul|/a|/article|/p|/li|/sup|/sub|/abbr|/small|/ul)>`)

var emphasisTags = strings.NewReplacer(
	"<h1>", "<b><u>", "</h1>", "</u></b>",
	"<h2>", "<b>", "</h2>", "</b>",
	"<h3>", "<u>", "</h3>", "</u>",
	"<h4>", "<i>", "</h4>", "</i>",
	"<h5>", "", "</h5>", "",
	"<h6>", "", "</h6>", "",
	"<big>", "<b>", "</big>", "</b>",
)

// Sanitize strips a fixed set of wrapper tags and rewrites headings and <big> into
// bold/underline/italic. Any tag outside those lists is left as is.
func Sanitize(text string) string {
	return RewriteHeadings(wrapperTags.ReplaceAllString(text, ""))
}

// RewriteHeadings applies only the heading and <big> rewrites of Sanitize.
func RewriteHeadings(text string) string {
	return emphasisTags.Replace(text)
}
