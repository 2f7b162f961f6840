// Package parser turns registry markup into table rows and pager metadata.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

// sortSuffix matches the screen-reader text Drupal appends to sortable headers.
var sortSuffix = regexp.MustCompile(`(?i)\s*sort\s+(ascending|descending)\s*$`)

// Extractor parses the first data table on a registry page.
type Extractor struct {
	aliases map[string]string
}

// NewExtractor returns an Extractor that renames headers found in aliases
// after whitespace and sort-indicator cleanup.
func NewExtractor(aliases map[string]string) *Extractor {
	cp := make(map[string]string, len(aliases))
	for k, v := range aliases {
		cp[strings.ToLower(CleanHeader(k))] = v
	}
	return &Extractor{aliases: cp}
}

// Extract returns one TableRow per body row in source order. A page without a
// table or without data rows yields crawler.ErrEmptyPage.
func (e *Extractor) Extract(body []byte) ([]crawler.TableRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, crawler.ErrEmptyPage
	}

	headerRow := headerRow(table)
	headers := e.headers(headerRow)
	if len(headers) == 0 {
		return nil, crawler.ErrEmptyPage
	}

	var rows []crawler.TableRow
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.IsSelection(headerRow) || tr.ParentsFiltered("thead").Length() > 0 {
			return
		}
		cells := tr.ChildrenFiltered("th, td")
		if cells.Length() == 0 || placeholder(cells, len(headers)) {
			return
		}
		row := make(crawler.TableRow, len(headers))
		filled := false
		cells.Each(func(i int, td *goquery.Selection) {
			if i >= len(headers) || headers[i] == "" {
				return
			}
			text := collapse(td.Text())
			if text != "" {
				filled = true
			}
			row[headers[i]] = text
		})
		if filled {
			rows = append(rows, row)
		}
	})
	if len(rows) == 0 {
		return nil, crawler.ErrEmptyPage
	}
	return rows, nil
}

// headerRow is the first thead row, or else the first row holding th cells.
func headerRow(table *goquery.Selection) *goquery.Selection {
	row := table.Find("thead tr").First()
	if row.Length() == 0 {
		row = table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ChildrenFiltered("th").Length() > 0
		}).First()
	}
	return row
}

func (e *Extractor) headers(row *goquery.Selection) []string {
	var out []string
	row.ChildrenFiltered("th, td").Each(func(_ int, th *goquery.Selection) {
		out = append(out, e.canonical(th.Text()))
	})
	return out
}

// placeholder reports whether cells are a views empty-text row: a views-empty
// cell, or a single cell spanning every column.
func placeholder(cells *goquery.Selection, columns int) bool {
	if cells.FilterFunction(func(_ int, c *goquery.Selection) bool {
		return c.HasClass("views-empty")
	}).Length() > 0 {
		return true
	}
	if cells.Length() != 1 || columns < 2 {
		return false
	}
	span, err := strconv.Atoi(strings.TrimSpace(cells.AttrOr("colspan", "")))
	return err == nil && span >= columns
}

func (e *Extractor) canonical(raw string) string {
	h := CleanHeader(raw)
	if alias, ok := e.aliases[strings.ToLower(h)]; ok {
		return alias
	}
	return h
}

// CleanHeader collapses whitespace and strips sort-indicator suffixes such as
// "Name  Sort descending" -> "Name".
func CleanHeader(raw string) string {
	return strings.TrimSpace(sortSuffix.ReplaceAllString(collapse(raw), ""))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
