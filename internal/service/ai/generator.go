package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"pdfqa/internal/models"
)

// ErrGeneration marks a failed model call.
var ErrGeneration = errors.New("generation failed")

// Generator sends one prompt to the chat model and returns its reply as is.
// There is no retry, no fallback model and no streaming.
type Generator struct {
	chatModel model.BaseChatModel
	modelName string
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *zap.Logger
}

type GeneratorOption func(*Generator)

func WithTracer(tracer trace.Tracer) GeneratorOption {
	return func(g *Generator) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

func WithLogger(logger *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTimeout bounds a single generation call.
func WithTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		g.timeout = d
	}
}

func NewGenerator(chatModel model.BaseChatModel, modelName string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		chatModel: chatModel,
		modelName: modelName,
		tracer:    noop.NewTracerProvider().Tracer("ai"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ModelName reports the backend model answers are produced with.
func (g *Generator) ModelName() string {
	return g.modelName
}

// Generate blocks until the backend answers or fails. Cancellation of ctx by
// the caller is ignored; only the configured timeout ends a call early.
func (g *Generator) Generate(ctx context.Context, prompt string) (*models.Answer, error) {
	if g.chatModel == nil {
		return nil, fmt.Errorf("%w: chat model not configured", ErrGeneration)
	}
	ctx = context.WithoutCancel(ctx)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	ctx, span := g.tracer.Start(ctx, "ai.generate", trace.WithAttributes(
		attribute.String("ai.model", g.modelName),
		attribute.Int("ai.prompt_chars", len(prompt)),
	))
	defer span.End()

	start := time.Now()
	resp, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		g.logger.Warn("generation failed", zap.String("model", g.modelName), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if resp == nil {
		span.SetStatus(codes.Error, "empty response")
		return nil, fmt.Errorf("%w: empty response", ErrGeneration)
	}
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("ai.answer_chars", len(resp.Content)))
	g.logger.Info("answer generated",
		zap.String("model", g.modelName),
		zap.Duration("duration", elapsed),
		zap.Int("answer_chars", len(resp.Content)),
	)
	return &models.Answer{
		Content:     resp.Content,
		Model:       g.modelName,
		GeneratedAt: time.Now(),
		Duration:    elapsed,
	}, nil
}
