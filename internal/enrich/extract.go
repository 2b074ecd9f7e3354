package enrich

import (
	"bytes"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// descriptionMarkers are class or id fragments of the element holding the
// job ad on the boards we fetch from.
var descriptionMarkers = []string{
	"show-more-less-html__markup", // linkedin public view
	"description__text",           // linkedin
	"jobDescriptionText",          // indeed
	"jobsearch-JobComponent-description",
	"job-description",
}

var (
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	contentPolicy = bluemonday.UGCPolicy()
	textPolicy    = bluemonday.StrictPolicy()
)

// ExtractText turns a job page into readable markdown. It prefers the
// board's description container and falls back to the whole body.
func ExtractText(rawHTML, pageURL string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	fragment := rawHTML
	if doc, err := html.Parse(strings.NewReader(rawHTML)); err == nil {
		if n := findDescription(doc); n != nil {
			var buf bytes.Buffer
			if err := html.Render(&buf, n); err == nil {
				fragment = buf.String()
			}
		}
	}

	clean := contentPolicy.Sanitize(fragment)
	md, err := mdConverter.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		return collapseBlankLines(textPolicy.Sanitize(clean))
	}
	return collapseBlankLines(md)
}

func findDescription(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key != "class" && a.Key != "id" {
				continue
			}
			for _, marker := range descriptionMarkers {
				if strings.Contains(a.Val, marker) {
					return n
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findDescription(c); found != nil {
			return found
		}
	}
	return nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
