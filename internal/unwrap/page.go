package unwrap

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// page is a parsed permalink landing page.
type page struct {
	doc  *goquery.Document
	base *url.URL
}

func parsePage(html, baseURL string) (*page, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &page{doc: doc, base: base}, nil
}

// anchors returns every absolute http(s) anchor target in document order.
func (p *page) anchors() []string {
	return p.resolveAll("a[href]", "href")
}

// canonicals returns the targets of <link rel="canonical"> tags.
func (p *page) canonicals() []string {
	return p.resolveAll(`link[rel="canonical"]`, "href")
}

func (p *page) resolveAll(selector, attr string) []string {
	var links []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr(attr)
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := p.base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, resolved.String())
	})
	return links
}
