package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Extractor turns a stored PDF into its ordered page texts.
type Extractor struct {
	loader einodoc.Loader
	tracer trace.Tracer
}

// NewExtractor wires the eino file loader to the PDF parser. tracer may be nil.
func NewExtractor(ctx context.Context, tracer trace.Tracer) (*Extractor, error) {
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf": &PDFParser{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init pdf parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("document")
	}
	return &Extractor{loader: loader, tracer: tracer}, nil
}

// Extract reads the file at path and returns one string per page.
// Any failure wraps ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, path string) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "document.extract",
		trace.WithAttributes(attribute.String("document.file", filepath.Base(path))))
	defer span.End()

	docs, err := e.loader.Load(ctx, einodoc.Source{URI: path})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract")
		return nil, wrapExtraction(err)
	}
	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, doc.Content)
	}
	span.SetAttributes(attribute.Int("document.pages", len(pages)))
	return pages, nil
}

func wrapExtraction(err error) error {
	if errors.Is(err, ErrExtraction) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrExtraction, err)
}
