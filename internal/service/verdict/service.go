package verdict

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
)

var (
	ErrUnavailable       = errors.New("verdict model not configured")
	ErrTransport         = errors.New("verdict call failed")
	ErrMalformedResponse = errors.New("verdict response malformed")
	ErrEmptyImage        = errors.New("image payload is empty")
)

// Service asks a vision-capable chat model whether a captured frame shows a
// live person. The model is treated as untrusted; see Normalize.
type Service struct {
	model model.BaseChatModel
	log   zerolog.Logger
}

// NewService wraps a chat model. A nil model yields a service whose Analyze
// always fails with ErrUnavailable.
func NewService(m model.BaseChatModel) *Service {
	return &Service{model: m, log: logging.For("verdict")}
}

// Available reports whether a model is wired in.
func (s *Service) Available() bool {
	return s != nil && s.model != nil
}

// Analyze sends one JPEG frame to the model and returns the normalized verdict.
func (s *Service) Analyze(ctx context.Context, jpeg []byte) (verification.Verdict, error) {
	if !s.Available() {
		return verification.Verdict{}, ErrUnavailable
	}
	if len(jpeg) == 0 {
		return verification.Verdict{}, ErrEmptyImage
	}

	started := time.Now()
	resp, err := s.model.Generate(ctx, buildMessages(jpeg))
	if err != nil {
		return verification.Verdict{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return verification.Verdict{}, fmt.Errorf("%w: no response text", ErrMalformedResponse)
	}

	verdict, err := Normalize(resp.Content)
	if err != nil {
		s.log.Warn().Err(err).Int("length", len(resp.Content)).Msg("failed to parse verdict response")
		return verification.Verdict{}, err
	}

	s.log.Info().
		Bool("is_real", verdict.IsReal).
		Int("confidence", verdict.Confidence).
		Int("issues", len(verdict.Issues)).
		Dur("took", time.Since(started)).
		Msg("frame analyzed")
	return verdict, nil
}

func buildMessages(jpeg []byte) []*schema.Message {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	user := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    dataURL,
					Detail: schema.ImageURLDetailHigh,
				},
			},
			{
				Type: schema.ChatMessagePartTypeText,
				Text: analysisPrompt,
			},
		},
	}

	return []*schema.Message{schema.SystemMessage(systemPrompt), user}
}
