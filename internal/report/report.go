package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/FranksOps/newsthumb/internal/refresh"
	"github.com/FranksOps/newsthumb/internal/storage"
)

// Coverage contains aggregated image coverage over a set of stored articles.
type Coverage struct {
	TotalArticles   int            `json:"total_articles"`
	WithThumbnail   int            `json:"with_thumbnail"`
	WithPlaceholder int            `json:"with_placeholder"`
	Missing         int            `json:"missing"`
	Aggregator      int            `json:"aggregator_links"`
	ByKeyword       map[string]int `json:"by_keyword"`
	BySource        map[string]int `json:"by_source"`
	FirstCollected  time.Time      `json:"first_collected"`
	LastCollected   time.Time      `json:"last_collected"`
}

// GenerateCoverage aggregates image coverage for articles.
func GenerateCoverage(articles []*storage.Article) Coverage {
	c := Coverage{
		ByKeyword: make(map[string]int),
		BySource:  make(map[string]int),
	}

	if len(articles) == 0 {
		return c
	}

	c.FirstCollected = articles[0].CollectedAt
	c.LastCollected = articles[0].CollectedAt

	for _, a := range articles {
		c.TotalArticles++
		switch {
		case a.ImageURL == "":
			c.Missing++
		case a.ImageKind == storage.ImageSynthetic || strings.HasPrefix(a.ImageURL, "data:"):
			c.WithPlaceholder++
		default:
			c.WithThumbnail++
		}
		if strings.Contains(a.URL, "://news.google.com/") {
			c.Aggregator++
		}
		if a.Keyword != "" {
			c.ByKeyword[a.Keyword]++
		}
		if a.Source != "" {
			c.BySource[a.Source]++
		}

		if a.CollectedAt.Before(c.FirstCollected) {
			c.FirstCollected = a.CollectedAt
		}
		if a.CollectedAt.After(c.LastCollected) {
			c.LastCollected = a.CollectedAt
		}
	}

	return c
}

// WriteJSON writes v (a refresh.Summary or Coverage) as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

var funcs = template.FuncMap{
	"pct": func(n, total int) string {
		if total == 0 {
			return "0.0%"
		}
		return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
	},
}

const summaryTmpl = `Newsthumb Refresh Summary
-------------------------
Run:           {{.RunID}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Articles:      {{.Total}}
Thumbnails:    {{.UpdatedWithThumbnail}}
Placeholders:  {{.UpdatedWithPlaceholder}}
Skipped:       {{.Skipped}}
Failed:        {{.Failed}}
`

// WriteText writes a human-readable refresh summary.
func WriteText(w io.Writer, summary refresh.Summary) error {
	return execute(w, "summary", summaryTmpl, summary)
}

const coverageTmpl = `Newsthumb Image Coverage
------------------------
Collected:     {{if .TotalArticles}}{{.FirstCollected.Format "2006-01-02 15:04:05"}} - {{.LastCollected.Format "2006-01-02 15:04:05"}}{{else}}n/a{{end}}
Articles:      {{.TotalArticles}}
Thumbnails:    {{.WithThumbnail}} ({{pct .WithThumbnail .TotalArticles}})
Placeholders:  {{.WithPlaceholder}} ({{pct .WithPlaceholder .TotalArticles}})
Missing:       {{.Missing}} ({{pct .Missing .TotalArticles}})
Aggregator:    {{.Aggregator}}

Keywords:
{{- range $kw, $count := .ByKeyword}}
  {{$kw}}: {{$count}}
{{- else}}
  None
{{- end}}

Sources:
{{- range $src, $count := .BySource}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}
`

// WriteCoverageText writes a human-readable coverage report.
func WriteCoverageText(w io.Writer, c Coverage) error {
	return execute(w, "coverage", coverageTmpl, c)
}

const htmlTmpl = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Newsthumb Coverage Report</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 2rem; color: #333; }
    .stats { display: flex; gap: 1rem; margin-bottom: 2rem; }
    .stat-card { background: #f4f4f4; padding: 1rem; border-radius: 8px; flex: 1; }
    .stat-card h3 { margin-top: 0; font-size: 1rem; color: #666; }
    .stat-card p { margin: 0; font-size: 1.5rem; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
    th, td { padding: 0.5rem; text-align: left; border-bottom: 1px solid #ddd; }
    th { background: #f4f4f4; }
  </style>
</head>
<body>
  <h1>Newsthumb Coverage Report</h1>
  {{- if .TotalArticles}}
  <p>Collected {{.FirstCollected.Format "2006-01-02 15:04:05"}} to {{.LastCollected.Format "2006-01-02 15:04:05"}}</p>
  {{- end}}

  <div class="stats">
    <div class="stat-card"><h3>Articles</h3><p>{{.TotalArticles}}</p></div>
    <div class="stat-card"><h3>Thumbnails</h3><p>{{.WithThumbnail}} ({{pct .WithThumbnail .TotalArticles}})</p></div>
    <div class="stat-card"><h3>Placeholders</h3><p>{{.WithPlaceholder}}</p></div>
    <div class="stat-card"><h3>Missing</h3><p>{{.Missing}}</p></div>
  </div>

  <h3>Keywords</h3>
  <table>
    <tr><th>Keyword</th><th>Articles</th></tr>
    {{- range $kw, $count := .ByKeyword}}
    <tr><td>{{$kw}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Sources</h3>
  <table>
    <tr><th>Source</th><th>Articles</th></tr>
    {{- range $src, $count := .BySource}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a standalone HTML coverage report. Keyword and source
// names come from feeds, so this one goes through html/template.
func WriteHTML(w io.Writer, c Coverage) error {
	t, err := htmltemplate.New("html").Funcs(htmltemplate.FuncMap(funcs)).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, c); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

func execute(w io.Writer, name, text string, data any) error {
	t, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return fmt.Errorf("report: parse %s template: %w", name, err)
	}
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("report: render %s: %w", name, err)
	}
	return nil
}
