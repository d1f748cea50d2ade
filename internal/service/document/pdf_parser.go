package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

// MetaKeyPage is the 1-based page number stored on every parsed document.
const MetaKeyPage = "page"

// ErrExtraction marks a PDF that could not be read.
var ErrExtraction = errors.New("extraction failed")

// PDFParser is an eino parser that emits one document per PDF page, in page
// order. Pages without a text layer yield an empty document; no OCR is done.
type PDFParser struct{}

var _ parser.Parser = (*PDFParser)(nil)

func (p *PDFParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	options := parser.GetCommonOptions(&parser.Options{}, opts...)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf: %v", ErrExtraction, err)
	}
	pages, err := ReadPages(data)
	if err != nil {
		return nil, err
	}
	docs := make([]*schema.Document, 0, len(pages))
	for i, text := range pages {
		meta := make(map[string]any, len(options.ExtraMeta)+1)
		for k, v := range options.ExtraMeta {
			meta[k] = v
		}
		meta[MetaKeyPage] = i + 1
		docs = append(docs, &schema.Document{Content: text, MetaData: meta})
	}
	return docs, nil
}

// ReadPages returns the plain text of every page of a PDF.
func ReadPages(data []byte) (pages []string, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty pdf content", ErrExtraction)
	}
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed pdf: %v", ErrExtraction, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrExtraction, err)
	}
	total := r.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: read page %d: %v", ErrExtraction, i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
