package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gl "cloud.google.com/go/ai/generativelanguage/apiv1beta"
	pb "cloud.google.com/go/ai/generativelanguage/apiv1beta/generativelanguagepb"
	"google.golang.org/api/option"

	"plantdoctor/internal/models"
)

const DefaultModel = "gemini-1.5-flash"

// BlockedError reports a prompt or answer withheld by the model's safety
// filters.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "gemini: response blocked: " + e.Reason
}

// Gemini sends prompts and images to a Gemini model over the REST API.
// Every GenerateContent is exactly one HTTP request: the client's default
// retry and timeout call options are cleared.
type Gemini struct {
	client *gl.GenerativeClient
	model  string
	name   string
}

func NewGemini(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, newFailure(models.FailureNotConfigured, errors.New("API key required"))
	}
	if model == "" {
		model = DefaultModel
	}

	opts = append(opts, option.WithAPIKey(apiKey))

	client, err := gl.NewGenerativeRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	client.CallOptions.GenerateContent = nil

	return &Gemini{
		client: client,
		model:  resourceName(model),
		name:   model,
	}, nil
}

func (g *Gemini) Model() string { return g.name }

// GenerateContent performs a single generateContent call. image may be nil
// for text-only prompts.
func (g *Gemini) GenerateContent(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	parts := []*pb.Part{{Data: &pb.Part_Text{Text: prompt}}}
	if len(image) > 0 {
		parts = append(parts, &pb.Part{Data: &pb.Part_InlineData{
			InlineData: &pb.Blob{MimeType: mimeType, Data: image},
		}})
	}

	resp, err := g.client.GenerateContent(ctx, &pb.GenerateContentRequest{
		Model:    g.model,
		Contents: []*pb.Content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return "", err
	}

	if r := resp.GetPromptFeedback().GetBlockReason(); r != pb.GenerateContentResponse_PromptFeedback_BLOCK_REASON_UNSPECIFIED {
		return "", &BlockedError{Reason: r.String()}
	}

	if len(resp.GetCandidates()) == 0 || resp.GetCandidates()[0].GetContent() == nil {
		return "", errors.New("no response from Gemini")
	}

	cand := resp.GetCandidates()[0]
	if cand.GetFinishReason() == pb.Candidate_SAFETY {
		return "", &BlockedError{Reason: cand.GetFinishReason().String()}
	}

	var b strings.Builder
	for _, p := range cand.GetContent().GetParts() {
		b.WriteString(p.GetText())
	}

	if b.Len() == 0 {
		return "", errors.New("Gemini returned no text")
	}

	return b.String(), nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func resourceName(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	return "models/" + model
}
