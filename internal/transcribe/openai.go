package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/samcharles93/talkloop/internal/audio"
	"github.com/samcharles93/talkloop/internal/logger"
)

// OpenAIConfig configures an OpenAI recognizer. BaseURL may point at any
// server that speaks the audio transcription API, such as whisper.cpp's
// server or a local proxy.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
	Logger  logger.Logger
}

// OpenAI sends each segment as a WAV upload.
type OpenAI struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" && cfg.APIKey == "" {
		return nil, errors.New("transcribe: an API key or a base url is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTP != nil {
		oc.HTTPClient = cfg.HTTP
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		log:    logger.Component(log, "transcribe"),
	}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, seg audio.Segment, p Params) (string, error) {
	if p.aborted() {
		return "", ErrAborted
	}
	if len(seg.Samples) == 0 {
		return "", nil
	}
	req := openai.AudioRequest{
		Model:       o.model,
		FilePath:    "segment.wav",
		Reader:      bytes.NewReader(seg.WAV()),
		Prompt:      p.InitialPrompt,
		Temperature: p.Temperature,
		Language:    p.Language,
		Format:      openai.AudioResponseFormatJSON,
	}
	p.report(0)

	var (
		resp openai.AudioResponse
		err  error
	)
	if p.Translate {
		resp, err = o.client.CreateTranslation(ctx, req)
	} else {
		resp, err = o.client.CreateTranscription(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTranscription, o.model, err)
	}
	p.report(100)
	o.log.Debug("segment transcribed",
		"audio", seg.Duration(),
		"strategy", p.Strategy(),
		"chars", len(resp.Text),
	)
	return resp.Text, nil
}
