package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Table is a parsed HTML table.
type Table struct {
	Headers     []string            `json:"headers"`
	Rows        []map[string]string `json:"rows"`
	RowCount    int                 `json:"row_count"`
	ColumnCount int                 `json:"column_count"`
}

// ToRecord converts the table into the dynamic record form.
func (t Table) ToRecord() map[string]any {
	headers := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		headers[i] = h
	}
	rows := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		m := make(map[string]any, len(r))
		for k, v := range r {
			m[k] = v
		}
		rows[i] = m
	}
	return map[string]any{
		"headers":      headers,
		"rows":         rows,
		"row_count":    t.RowCount,
		"column_count": t.ColumnCount,
	}
}

// ExtractTables parses every table in the document.
func (d *Document) ExtractTables() []Table {
	var out []Table
	d.Query.Find("table").Each(func(_ int, s *goquery.Selection) {
		out = append(out, ParseTable(s))
	})
	return out
}

// ParseTable reads one table element.
//
// Headers come from thead th cells, else the first row's th cells, else the
// first row's td cells. Only header rows made of th cells are skipped; a td
// header row is also emitted as data. Rows whose cell count matches the
// header count are keyed by header, others by column_N (1-based).
func ParseTable(table *goquery.Selection) Table {
	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		// Ignore rows that belong to nested tables.
		return tr.Closest("table").IsSelection(table)
	})

	var headers []string
	skipFirst := false
	bodyRows := rows

	if th := table.ChildrenFiltered("thead").Find("th"); th.Length() > 0 {
		headers = cellTexts(th)
		bodyRows = rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.ParentsFiltered("thead").Length() == 0
		})
	} else if rows.Length() > 0 {
		first := rows.First()
		if th := first.ChildrenFiltered("th"); th.Length() > 0 {
			headers = cellTexts(th)
			skipFirst = true
		} else {
			headers = cellTexts(first.ChildrenFiltered("td"))
		}
	}

	t := Table{Headers: headers, Rows: []map[string]string{}}
	bodyRows.Each(func(i int, tr *goquery.Selection) {
		if skipFirst && i == 0 {
			return
		}
		cells := cellTexts(tr.ChildrenFiltered("td, th"))
		if len(cells) == 0 {
			return
		}
		if len(cells) > t.ColumnCount {
			t.ColumnCount = len(cells)
		}
		row := make(map[string]string, len(cells))
		keyed := len(cells) == len(headers)
		for j, c := range cells {
			if keyed && headers[j] != "" {
				row[headers[j]] = c
			} else {
				row[fmt.Sprintf("column_%d", j+1)] = c
			}
		}
		t.Rows = append(t.Rows, row)
	})
	if len(headers) > t.ColumnCount {
		t.ColumnCount = len(headers)
	}
	t.RowCount = len(t.Rows)
	return t
}

func cellTexts(cells *goquery.Selection) []string {
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, CleanText(c.Text()))
	})
	return out
}
