package ingest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyword is a search topic collected from the news feed.
type Keyword struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Active      bool   `yaml:"active" json:"active"`
}

// Query returns the feed search term for k.
func (k Keyword) Query() string {
	if k.DisplayName != "" {
		return k.DisplayName
	}
	return strings.ReplaceAll(k.Name, "_", " ")
}

// KeywordsFile is the YAML layout read by LoadKeywords:
//
//	keywords:
//	  - name: social_commerce
//	    display_name: Social Commerce
//	    active: true
type KeywordsFile struct {
	Keywords []struct {
		Name        string `yaml:"name"`
		DisplayName string `yaml:"display_name"`
		// Active defaults to true when omitted.
		Active *bool `yaml:"active"`
	} `yaml:"keywords"`
}

// LoadKeywords reads a keyword list from path. An empty path returns
// DefaultKeywords.
func LoadKeywords(path string) ([]Keyword, error) {
	if path == "" {
		return DefaultKeywords(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read keywords %s: %w", path, err)
	}

	var file KeywordsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("ingest: parse keywords %s: %w", path, err)
	}

	keywords := make([]Keyword, 0, len(file.Keywords))
	for i, raw := range file.Keywords {
		if raw.Name == "" && raw.DisplayName == "" {
			return nil, fmt.Errorf("ingest: keywords %s: entry %d has no name", path, i)
		}
		k := Keyword{Name: raw.Name, DisplayName: raw.DisplayName, Active: true}
		if raw.Active != nil {
			k.Active = *raw.Active
		}
		keywords = append(keywords, k)
	}
	return keywords, nil
}

// Active filters keywords down to the active ones.
func Active(keywords []Keyword) []Keyword {
	var out []Keyword
	for _, k := range keywords {
		if k.Active {
			out = append(out, k)
		}
	}
	return out
}

var defaultKeywords = [][2]string{
	{"social_commerce", "Social Commerce"},
	{"social_shopping", "Social Shopping"},
	{"livestream_shopping", "Livestream Shopping"},
	{"live_shopping", "Live Shopping"},
	{"shoppable_social", "Shoppable Social Media"},
	{"shoppable_video", "Shoppable Video"},
	{"video_commerce", "Video Commerce"},
	{"tiktok_shop", "TikTok Shop"},
	{"instagram_shopping", "Instagram Shopping"},
	{"facebook_shops", "Facebook Shops"},
	{"pinterest_shopping", "Pinterest Shopping"},
	{"youtube_shopping", "YouTube Shopping"},
	{"amazon_live", "Amazon Live"},
	{"creator_economy", "Creator Economy"},
	{"influencer_marketing", "Influencer Marketing"},
	{"creator_commerce", "Creator Commerce"},
	{"social_commerce_trends", "Social Commerce Trends"},
	{"conversational_commerce", "Conversational Commerce"},
	{"group_buying", "Group Buying"},
	{"virtual_try_on", "Virtual Try On"},
}

// DefaultKeywords returns the built-in topic list, all active.
func DefaultKeywords() []Keyword {
	out := make([]Keyword, len(defaultKeywords))
	for i, kv := range defaultKeywords {
		out[i] = Keyword{Name: kv[0], DisplayName: kv[1], Active: true}
	}
	return out
}
