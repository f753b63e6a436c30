// ABOUTME: In-process PDF text extraction built on ledongthuc/pdf positioned text rows
// ABOUTME: Rows become lines, lines are grouped into blocks by vertical gap, blocks join with newlines
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/harper/paperchat/internal/models"
)

const (
	// a horizontal gap wider than this fraction of the font size separates words
	wordGapRatio = 0.25
	// a vertical gap wider than this multiple of the font size starts a new block
	blockGapRatio = 2.0
)

// Local extracts text without leaving the process
type Local struct{}

// NewLocal creates the local backend
func NewLocal() *Local {
	return &Local{}
}

// Name identifies the backend in logs
func (l *Local) Name() string {
	return "local"
}

// PageCount returns the number of pages in data
func PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: malformed pdf: %v", models.ErrParse, r)
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: open pdf: %v", models.ErrParse, err)
	}
	return reader.NumPage(), nil
}

// Pages returns one string per page in page order; null pages are empty
func (l *Local) Pages(ctx context.Context, doc Document, progress ProgressFunc) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: pdf parser failed on %s: %v", models.ErrParse, doc.Name, r)
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrParse, doc.Name, err)
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := pageText(reader.Page(i))
		if err != nil {
			return nil, fmt.Errorf("%w: page %d of %s: %v", models.ErrParse, i, doc.Name, err)
		}
		pages = append(pages, text)
		if progress != nil {
			progress(float64(i) / float64(total) * 100)
		}
	}
	return pages, nil
}

func pageText(page lpdf.Page) (string, error) {
	if page.V.IsNull() {
		return "", nil
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return "", err
	}

	lines := make([]textRow, 0, len(rows))
	for _, row := range rows {
		line := textRow{Y: float64(row.Position)}
		for _, t := range row.Content {
			line.Runs = append(line.Runs, textRun{X: t.X, W: t.W, FontSize: t.FontSize, S: t.S})
		}
		lines = append(lines, line)
	}
	return layoutPage(lines), nil
}

// textRun is one positioned piece of text on a row
type textRun struct {
	X, W, FontSize float64
	S              string
}

// textRow is a baseline of runs in renderer order
type textRow struct {
	Y    float64
	Runs []textRun
}

// layoutPage turns rows into page text. Words on a line are separated by single
// spaces, lines by newlines, and a vertical gap larger than blockGapRatio font
// sizes starts a new block. Rows keep the renderer's order.
func layoutPage(rows []textRow) string {
	var (
		blocks  [][]string
		current []string
		prev    *textRow
	)
	for i := range rows {
		row := &rows[i]
		line := assembleLine(row.Runs)
		if line == "" {
			continue
		}
		if prev != nil && math.Abs(prev.Y-row.Y) > blockGapRatio*rowFontSize(prev) {
			blocks = append(blocks, current)
			current = nil
		}
		current = append(current, line)
		prev = row
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, strings.Join(b, "\n"))
	}
	return strings.Join(out, "\n")
}

func assembleLine(runs []textRun) string {
	var sb strings.Builder
	for i, r := range runs {
		if i > 0 {
			p := runs[i-1]
			if r.X-(p.X+p.W) > wordGapRatio*math.Max(p.FontSize, 1) {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(r.S)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func rowFontSize(row *textRow) float64 {
	size := 0.0
	for _, r := range row.Runs {
		size = math.Max(size, r.FontSize)
	}
	if size == 0 {
		return 12
	}
	return size
}
