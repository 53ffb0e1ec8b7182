package diagnosis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"plantdoctor/internal/logging"
	"plantdoctor/internal/models"
)

// Generator is the remote inference boundary: one prompt, an optional image,
// plain text back.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Client is the analysis entry point used by the coordinator. It makes
// exactly one remote call per Analyze and never retries.
type Client struct {
	gen        Generator
	logger     *zap.Logger
	configured atomic.Bool
}

func NewClient(gen Generator, logger *zap.Logger) *Client {
	return &Client{
		gen:    gen,
		logger: logging.OrNop(logger).Named("diagnosis"),
	}
}

// Init validates the credential with one trivial call. On failure the client
// stays unconfigured and every Analyze is refused locally.
func (c *Client) Init(ctx context.Context) error {
	if c.gen == nil {
		c.configured.Store(false)
		return newFailure(models.FailureNotConfigured, errors.New("no generator"))
	}

	start := time.Now()
	if _, err := c.gen.GenerateContent(ctx, checkPrompt, nil, ""); err != nil {
		c.configured.Store(false)
		c.logger.Warn("credential check failed", zap.Error(err))
		return newFailure(models.FailureNotConfigured, classify(err))
	}

	c.configured.Store(true)
	c.logger.Info("analysis client ready", zap.Duration("check_latency", time.Since(start)))

	return nil
}

func (c *Client) Configured() bool {
	return c.configured.Load()
}

// Analyze sends the request's image and prompt to the model and returns the
// raw report text. Errors are *Failure values.
func (c *Client) Analyze(ctx context.Context, req *models.AnalysisRequest) (string, error) {
	if !c.Configured() {
		return "", newFailure(models.FailureNotConfigured, nil)
	}
	if req == nil || len(req.Payload) == 0 {
		return "", newFailure(models.FailureEncode, errors.New("empty image payload"))
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = Prompt
	}

	start := time.Now()
	text, err := c.gen.GenerateContent(ctx, prompt, req.Payload, req.MimeType)
	if err != nil {
		err = classify(err)
		c.logger.Warn("analysis failed",
			zap.Uint64("seq", req.Seq),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}

	c.logger.Info("analysis finished",
		zap.Uint64("seq", req.Seq),
		zap.Int("payload_bytes", len(req.Payload)),
		zap.Int("report_chars", len(text)),
		zap.Duration("latency", time.Since(start)),
	)

	return text, nil
}
