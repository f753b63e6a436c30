// ABOUTME: Cuts a page range out of a PDF so each remote batch uploads only its own pages
// ABOUTME: Built on pdfcpu's trim, writing classic xref tables for the widest parser support
package pdf

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/harper/paperchat/internal/models"
)

// pdfcpu otherwise creates a config dir under the user's home on first use
var disableConfigDir sync.Once

// ExtractRange returns a PDF holding the zero-based pages [start, end) of data
func ExtractRange(data []byte, start, end int) (out []byte, err error) {
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: invalid page range [%d, %d)", models.ErrInput, start, end)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: malformed pdf: %v", models.ErrParse, r)
		}
	}()
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false

	selection := strconv.Itoa(end)
	if end-start > 1 {
		selection = fmt.Sprintf("%d-%d", start+1, end)
	}

	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &buf, []string{selection}, conf); err != nil {
		return nil, fmt.Errorf("%w: extract pages %s: %v", models.ErrParse, selection, err)
	}
	return buf.Bytes(), nil
}
