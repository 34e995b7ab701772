// Package extract pulls identity signals out of the HTML of one portal row.
// Each field is resolved by an ordered chain of extractors; the first one that
// finds a value wins.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/withObsrvr/pda-report-collector/internal/identity"
)

// Selectors locate the identity cells inside a row. They are CSS selectors
// evaluated by goquery.
type Selectors struct {
	PersonCell   string `yaml:"person_cell"`
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	DocumentCell string `yaml:"document_cell"`
	GenderCell   string `yaml:"gender_cell"`
}

// DefaultSelectors match the Angular Material people table.
func DefaultSelectors() Selectors {
	return Selectors{
		PersonCell:   "td.mat-column-person, td.cdk-column-person",
		Name:         "span.font-medium",
		Email:        "a[href^='mailto:']",
		DocumentCell: "td.mat-column-fieldOne, td.cdk-column-fieldOne",
		GenderCell:   "td.mat-column-gender, td.cdk-column-gender",
	}
}

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	docTextRe = regexp.MustCompile(`\b(\d{7,})\b`)
)

// Document numbers read from the document cell shorter than this are ignored.
const minCellDocumentLen = 6

// Row is a parsed row.
type Row struct {
	sel   *goquery.Selection
	html  string
	lines []string
}

// Parse parses the outer HTML of one row. Table rows are wrapped in a table so
// the HTML parser keeps their cells.
func Parse(rowHTML string) (*Row, error) {
	src := rowHTML
	if lower := strings.ToLower(strings.TrimSpace(rowHTML)); strings.HasPrefix(lower, "<tr") {
		src = "<table><tbody>" + rowHTML + "</tbody></table>"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse row html: %w", err)
	}
	body := doc.Find("body")
	return &Row{sel: body, html: rowHTML, lines: textLines(body)}, nil
}

// Text is the row's visible text, one line per text node.
func (r *Row) Text() string {
	return strings.Join(r.lines, "\n")
}

// Extractor resolves a Record from a row.
type Extractor struct {
	name   []func(*Row) identity.Field
	email  []func(*Row) identity.Field
	doc    []func(*Row) identity.Field
	gender []func(*Row) identity.Field
}

// New builds the extractor chains for sel.
func New(sel Selectors) *Extractor {
	return &Extractor{
		name: []func(*Row) identity.Field{
			inCell(sel.PersonCell, sel.Name, firstText),
			firstLine,
		},
		email: []func(*Row) identity.Field{
			inCell(sel.PersonCell, sel.Email, mailtoValue),
			inCell(sel.PersonCell, "*", ownTextWithEmail),
			regexIn(emailRe, 0, (*Row).Text),
			regexIn(emailRe, 0, func(r *Row) string { return r.html }),
		},
		doc: []func(*Row) identity.Field{
			inCell(sel.DocumentCell, "", digitsAtLeast(minCellDocumentLen)),
			regexIn(docTextRe, 1, (*Row).Text),
		},
		gender: []func(*Row) identity.Field{
			inCell(sel.GenderCell, "", firstText),
		},
	}
}

// Record extracts the identity signals of rowHTML.
func (e *Extractor) Record(rowHTML string) (identity.Record, error) {
	row, err := Parse(rowHTML)
	if err != nil {
		return identity.Record{}, err
	}
	return e.FromRow(row), nil
}

// FromRow runs every chain against a parsed row.
func (e *Extractor) FromRow(row *Row) identity.Record {
	return identity.NewRecord(
		identity.FirstFound(row, e.name...).Value,
		identity.FirstFound(row, e.email...).Value,
		identity.FirstFound(row, e.doc...).Value,
		identity.FirstFound(row, e.gender...).Value,
	)
}

// inCell finds cell (and then inner, when set) and applies read to each match
// in order until one yields a value.
func inCell(cell, inner string, read func(*goquery.Selection) identity.Field) func(*Row) identity.Field {
	return func(r *Row) identity.Field {
		if cell == "" {
			return identity.NotFound()
		}
		target := r.sel.Find(cell)
		if inner != "" {
			target = target.Find(inner)
		}
		var out identity.Field
		target.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out = read(s)
			return !out.Found
		})
		return out
	}
}

func firstText(s *goquery.Selection) identity.Field {
	return identity.Found(collapse(s.Text()))
}

// mailtoValue prefers data-email, then title, then text, then href.
func mailtoValue(s *goquery.Selection) identity.Field {
	for _, attr := range []string{"data-email", "title"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return identity.Found(v)
		}
	}
	if v := strings.TrimSpace(s.Text()); v != "" {
		return identity.Found(v)
	}
	if v, ok := s.Attr("href"); ok {
		return identity.Found(strings.TrimPrefix(strings.TrimSpace(v), "mailto:"))
	}
	return identity.NotFound()
}

// ownTextWithEmail looks at the element's direct text nodes only.
func ownTextWithEmail(s *goquery.Selection) identity.Field {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.TextNode || !strings.Contains(c.Data, "@") {
				continue
			}
			if m := emailRe.FindString(c.Data); m != "" {
				return identity.Found(m)
			}
			return identity.Found(c.Data)
		}
	}
	return identity.NotFound()
}

func digitsAtLeast(n int) func(*goquery.Selection) identity.Field {
	return func(s *goquery.Selection) identity.Field {
		d := identity.DigitsOnly(s.Text())
		if len(d) < n {
			return identity.NotFound()
		}
		return identity.Found(d)
	}
}

func firstLine(r *Row) identity.Field {
	if len(r.lines) == 0 {
		return identity.NotFound()
	}
	return identity.Found(r.lines[0])
}

func regexIn(re *regexp.Regexp, group int, source func(*Row) string) func(*Row) identity.Field {
	return func(r *Row) identity.Field {
		m := re.FindStringSubmatch(source(r))
		if len(m) <= group {
			return identity.NotFound()
		}
		return identity.Found(m[group])
	}
}

// textLines returns the non-blank text nodes under s in document order,
// skipping script and style content.
func textLines(s *goquery.Selection) []string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := collapse(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return lines
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
