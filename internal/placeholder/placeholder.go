// Package placeholder renders deterministic gradient thumbnails for articles
// that expose no usable image.
package placeholder

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"unicode/utf8"
)

// UnknownDomain is reported when no host can be derived from the input.
const UnknownDomain = "unknown"

// Image is a synthesized thumbnail.
type Image struct {
	DataURI string
	Domain  string
}

// Palette maps the first character of a domain to a primary color and
// hashes the domain onto one of Partners for the second gradient stop.
type Palette struct {
	Primary  map[rune]string
	Default  string
	Partners []string
}

// DefaultPalette returns the stock 36-entry palette.
func DefaultPalette() Palette {
	return Palette{
		Primary: map[rune]string{
			'a': "#FF5A3C", 'b': "#0EA5E9", 'c': "#34D399", 'd': "#EC4899",
			'e': "#8B5CF6", 'f': "#FBBF24", 'g': "#6366F1", 'h': "#059669",
			'i': "#3B82F6", 'j': "#EF4444", 'k': "#14B8A6", 'l': "#F97316",
			'm': "#84CC16", 'n': "#A855F7", 'o': "#F43F5E", 'p': "#10B981",
			'q': "#F59E0B", 'r': "#6EE7B7", 's': "#9333EA", 't': "#22D3EE",
			'u': "#F97316", 'v': "#FCD34D", 'w': "#4F46E5", 'x': "#0284C7",
			'y': "#7C3AED", 'z': "#C026D3",
			'0': "#78716C", '1': "#8B5CF6", '2': "#EC4899", '3': "#4ADE80",
			'4': "#FB923C", '5': "#4F46E5", '6': "#06B6D4", '7': "#0EA5E9",
			'8': "#0284C7", '9': "#2563EB",
		},
		Default:  "#3d4b66",
		Partners: []string{"#FBBF24", "#6366F1", "#059669", "#8B5CF6"},
	}
}

// Synthesizer renders placeholders at a fixed size.
type Synthesizer struct {
	palette Palette
	width   int
	height  int
}

// New returns a Synthesizer using palette at 800x400.
func New(palette Palette) *Synthesizer {
	if palette.Default == "" {
		palette.Default = DefaultPalette().Default
	}
	if len(palette.Partners) == 0 {
		palette.Partners = DefaultPalette().Partners
	}
	return &Synthesizer{palette: palette, width: 800, height: 400}
}

var std = New(DefaultPalette())

// Synthesize renders the placeholder for rawURL with the default palette.
func Synthesize(rawURL string) Image {
	return std.Synthesize(rawURL)
}

// Synthesize renders the placeholder for rawURL. The output depends only on
// the domain, so every article of a publisher shares one placeholder.
func (s *Synthesizer) Synthesize(rawURL string) Image {
	domain := Domain(rawURL)
	primary, partner := s.colors(domain)

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%[1]d" height="%[2]d" viewBox="0 0 %[1]d %[2]d">`+
		`<defs><linearGradient id="grad" x1="0%%" y1="0%%" x2="100%%" y2="100%%">`+
		`<stop offset="0%%" style="stop-color:%[3]s;stop-opacity:0.9"/>`+
		`<stop offset="100%%" style="stop-color:%[4]s;stop-opacity:0.8"/>`+
		`</linearGradient></defs>`+
		`<rect width="%[1]d" height="%[2]d" fill="url(#grad)"/></svg>`,
		s.width, s.height, primary, partner)

	return Image{
		DataURI: "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg)),
		Domain:  domain,
	}
}

func (s *Synthesizer) colors(domain string) (string, string) {
	primary := s.palette.Default
	first, _ := utf8.DecodeRuneInString(domain)
	if c, ok := s.palette.Primary[first]; ok {
		primary = c
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(domain))
	partner := s.palette.Partners[h.Sum32()%uint32(len(s.palette.Partners))]
	return primary, partner
}

// Domain returns the lower-cased host of rawURL without port or a leading
// "www.", or UnknownDomain when there is none.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return UnknownDomain
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return UnknownDomain
	}
	return host
}
