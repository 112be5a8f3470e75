package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"golang.org/x/net/html"
)

// StructuredData reads schema.org JSON-LD blocks. Only fully qualified image
// URLs are accepted here; malformed blocks are skipped. An image given as an
// {"@id": ...} reference is looked up among the block's nodes, the way Yoast
// links an Article to a separate ImageObject.
func StructuredData(p *Page) (Candidate, bool) {
	var found Candidate
	var ok bool
	p.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(cleanJSONLD(s.Text())), &v); err != nil {
			return true
		}
		nodes := make(map[string]map[string]any)
		indexNodes(v, nodes, 0)
		for _, src := range ldImages(v, nodes, 0) {
			if u, accepted := p.acceptAbsolute(src); accepted {
				found, ok = Candidate{URL: u, Stage: StageStructuredData}, true
				return false
			}
		}
		return true
	})
	return found, ok
}

func cleanJSONLD(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<!--")
	s = strings.TrimSuffix(s, "-->")
	s = strings.TrimPrefix(strings.TrimSpace(s), "//<![CDATA[")
	s = strings.TrimSuffix(strings.TrimSpace(s), "//]]>")
	return strings.TrimSpace(s)
}

const maxLDDepth = 4

// indexNodes records objects that carry both an "@id" and a url, keyed by id.
func indexNodes(v any, nodes map[string]map[string]any, depth int) {
	if depth > maxLDDepth {
		return
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			indexNodes(item, nodes, depth+1)
		}
	case map[string]any:
		if id, ok := t["@id"].(string); ok && id != "" {
			// References repeat the id without a url; keep the full node.
			if _, hasURL := objectURL(t); hasURL {
				if _, seen := nodes[id]; !seen {
					nodes[id] = t
				}
			}
		}
		for _, child := range t {
			indexNodes(child, nodes, depth+1)
		}
	}
}

// ldImages walks top-level objects, arrays and @graph lists collecting the
// values of "image" properties in document order.
func ldImages(v any, nodes map[string]map[string]any, depth int) []string {
	if depth > maxLDDepth {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			out = append(out, ldImages(item, nodes, depth+1)...)
		}
	case map[string]any:
		if img, ok := t["image"]; ok {
			out = append(out, imageValues(img, nodes)...)
		}
		if g, ok := t["@graph"]; ok {
			out = append(out, ldImages(g, nodes, depth+1)...)
		}
	}
	return out
}

// imageValues accepts a string, an object with a url, or a reference to
// such an object. A bare "@id" is a node name, never an image address.
func imageValues(v any, nodes map[string]map[string]any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		if s, ok := objectURL(t); ok {
			return []string{s}
		}
		if id, ok := t["@id"].(string); ok {
			if node, ok := nodes[id]; ok {
				if s, ok := objectURL(node); ok {
					return []string{s}
				}
			}
		}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, imageValues(item, nodes)...)
		}
		return out
	}
	return nil
}

func objectURL(obj map[string]any) (string, bool) {
	for _, key := range []string{"url", "contentUrl"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Microdata reads itemprop="image" elements, including ImageObject scopes
// that carry the address on a nested itemprop="url".
func Microdata(p *Page) (Candidate, bool) {
	var found Candidate
	var ok bool
	p.Doc.Find(`[itemprop="image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		srcs := attrs(s, "src", "content", "href")
		if len(srcs) == 0 {
			srcs = attrs(s.Find(`[itemprop="url"], [itemprop="contentUrl"]`).First(), "content", "href", "src")
		}
		for _, src := range srcs {
			if u, accepted := p.accept(src); accepted {
				found, ok = Candidate{URL: u, Stage: StageMicrodata}, true
				return false
			}
		}
		return true
	})
	return found, ok
}

// Picture reads responsive <picture> elements: the first srcset entry of the
// first <source>, else the fallback <img>.
func Picture(p *Page) (Candidate, bool) {
	var found Candidate
	var ok bool
	p.Doc.Find("picture").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var srcs []string
		if srcset, exists := s.Find("source[srcset]").First().Attr("srcset"); exists {
			srcs = append(srcs, firstSrcset(srcset))
		}
		img := s.Find("img").First()
		srcs = append(srcs, attrs(img, "src", "data-src")...)
		if srcset, exists := img.Attr("srcset"); exists {
			srcs = append(srcs, firstSrcset(srcset))
		}
		for _, src := range srcs {
			if u, accepted := p.accept(src); accepted {
				found, ok = Candidate{URL: u, Stage: StagePicture}, true
				return false
			}
		}
		return true
	})
	return found, ok
}

// firstSrcset returns the URL of the first image candidate in a srcset.
func firstSrcset(srcset string) string {
	fields := strings.Fields(srcset)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSuffix(fields[0], ",")
}

// SocialMeta reads og:image, then twitter:image, then article:image.
func SocialMeta(p *Page) (Candidate, bool) {
	var srcs []string

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(p.HTML)); err == nil {
		for _, img := range og.Images {
			srcs = append(srcs, img.URL, img.SecureURL)
		}
	}
	srcs = append(srcs, p.meta("og:image", "og:image:url", "og:image:secure_url")...)
	srcs = append(srcs, p.meta("twitter:image", "twitter:image:src")...)
	srcs = append(srcs, p.meta("article:image")...)

	for _, src := range srcs {
		if u, ok := p.accept(src); ok {
			return Candidate{URL: u, Stage: StageSocialMeta}, true
		}
	}
	return Candidate{}, false
}

// meta returns the content of <meta> tags whose property or name matches
// one of keys, grouped in key order.
func (p *Page) meta(keys ...string) []string {
	var out []string
	metas := p.Doc.Find("meta")
	for _, key := range keys {
		metas.Each(func(_ int, s *goquery.Selection) {
			prop, _ := s.Attr("property")
			name, _ := s.Attr("name")
			if strings.EqualFold(prop, key) || strings.EqualFold(name, key) {
				if c, ok := s.Attr("content"); ok {
					out = append(out, c)
				}
			}
		})
	}
	return out
}

// curatedSelectors are common CMS wrappers around a lead image.
var curatedSelectors = []string{
	".article-image img",
	".featured-image img",
	".hero-image img",
	"article img.wp-post-image",
	"img.attachment-large",
	"img.size-large",
	"img.main-image",
	"img.featured-image",
	"img.article-image",
	".article-featured-image img",
	".post-thumbnail img",
	".article__featured-image img",
}

// Selectors tries each curated selector in order.
func Selectors(p *Page) (Candidate, bool) {
	for _, sel := range curatedSelectors {
		var found Candidate
		var ok bool
		p.Doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, src := range attrs(s, "src", "data-src") {
				if u, accepted := p.accept(src); accepted {
					found, ok = Candidate{URL: u, Stage: StageSelectors}, true
					return false
				}
			}
			return true
		})
		if ok {
			return found, true
		}
	}
	return Candidate{}, false
}

const priorityContainers = "article, .article, .post, .content, .main, main"

var (
	styleWidth  = regexp.MustCompile(`(?i)(?:^|[;\s])width\s*:\s*(\d+)px`)
	styleHeight = regexp.MustCompile(`(?i)(?:^|[;\s])height\s*:\s*(\d+)px`)
)

// LargestImage scores every non-decorative <img> by its declared area. An
// image inside a likely content container that meets the minimum area wins
// outright; otherwise the largest image meeting the minimum is taken.
func LargestImage(p *Page) (Candidate, bool) {
	priority := make(map[*html.Node]bool)
	p.Doc.Find(priorityContainers).Find("img").Each(func(_ int, s *goquery.Selection) {
		priority[s.Get(0)] = true
	})

	var best Candidate
	var immediate *Candidate
	scan := func(s *goquery.Selection, inPriority bool) bool {
		if !inPriority && priority[s.Get(0)] {
			return true
		}
		u, ok := p.acceptScanned(imageSource(s))
		if !ok {
			return true
		}
		area := imageArea(s)
		if area < p.filters.MinArea {
			return true
		}
		c := Candidate{URL: u, Stage: StageLargestImage, Area: area}
		if inPriority {
			immediate = &c
			return false
		}
		if area > best.Area {
			best = c
		}
		return true
	}

	p.Doc.Find(priorityContainers).Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		return scan(s, true)
	})
	if immediate != nil {
		return *immediate, true
	}
	p.Doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		return scan(s, false)
	})
	if best.URL != "" {
		return best, true
	}
	return Candidate{}, false
}

// FirstImage takes the first plausible <img> in document order.
func FirstImage(p *Page) (Candidate, bool) {
	var found Candidate
	var ok bool
	p.Doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if u, accepted := p.acceptScanned(imageSource(s)); accepted {
			found, ok = Candidate{URL: u, Stage: StageFirstImage}, true
			return false
		}
		return true
	})
	return found, ok
}

// imageSource returns the first real source of an <img>, skipping inline
// data: stand-ins used by lazy loaders.
func imageSource(s *goquery.Selection) string {
	for _, src := range attrs(s, "src", "data-src", "data-lazy-src", "data-original") {
		if !strings.HasPrefix(strings.ToLower(src), "data:") {
			return src
		}
	}
	return ""
}

// imageArea estimates width*height from attributes, then inline style.
// Unparsable dimensions count as zero.
func imageArea(s *goquery.Selection) int {
	style, _ := s.Attr("style")
	w := dimension(s, "width", styleWidth, style)
	h := dimension(s, "height", styleHeight, style)
	return w * h
}

func dimension(s *goquery.Selection, attr string, re *regexp.Regexp, style string) int {
	if v, ok := s.Attr(attr); ok {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px")); err == nil && n > 0 {
			return n
		}
	}
	if m := re.FindStringSubmatch(style); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// attrs returns the non-empty values of the named attributes, in order.
func attrs(s *goquery.Selection, names ...string) []string {
	var out []string
	if s.Length() == 0 {
		return nil
	}
	for _, n := range names {
		if v, ok := s.Attr(n); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
