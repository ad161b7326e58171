package lm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/talkloop/internal/logits"
)

// ServerConfig configures a Server engine.
type ServerConfig struct {
	BaseURL string
	APIKey  string
	Sampler logits.SamplerConfig
	// EOS is reported by EOS() and returned by Sample when the server stops
	// on end-of-generation. Servers do not expose the id, so it is configured.
	EOS  Token
	HTTP *http.Client
}

// Server talks to a llama.cpp llama-server. Evaluate only records the token
// sequence; the server evaluates it on the next Sample with prompt caching
// enabled, so an unchanged prefix is not recomputed.
type Server struct {
	cfg    ServerConfig
	nCtx   int
	tokens []Token

	mu     sync.Mutex
	pieces map[Token]string
}

type serverProps struct {
	DefaultGenerationSettings struct {
		NCtx int `json:"n_ctx"`
	} `json:"default_generation_settings"`
}

type tokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special"`
}

type tokenizeResponse struct {
	Tokens []Token `json:"tokens"`
}

type detokenizeRequest struct {
	Tokens []Token `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

type completionRequest struct {
	Prompt       []Token `json:"prompt"`
	NPredict     int     `json:"n_predict"`
	CachePrompt  bool    `json:"cache_prompt"`
	ReturnTokens bool    `json:"return_tokens"`
	Temperature  float32 `json:"temperature"`
	TopK         int     `json:"top_k"`
	TopP         float32 `json:"top_p"`
	Seed         int64   `json:"seed"`
}

type completionResponse struct {
	Content  string  `json:"content"`
	Tokens   []Token `json:"tokens"`
	StopType string  `json:"stop_type"`
}

// NewServer connects to the server at cfg.BaseURL and reads its context size.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: server url is required", ErrEngineInit)
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 120 * time.Second}
	}
	s := &Server{cfg: cfg, pieces: make(map[Token]string)}

	var props serverProps
	if err := s.call(ctx, http.MethodGet, "/props", nil, &props); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineInit, cfg.BaseURL, err)
	}
	s.nCtx = props.DefaultGenerationSettings.NCtx
	return s, nil
}

func (s *Server) Evaluate(ctx context.Context, batch []Token, pos int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pos < 0 || pos > len(s.tokens) {
		return fmt.Errorf("%w: pos %d, evaluated %d", ErrPosition, pos, len(s.tokens))
	}
	if s.nCtx > 0 && pos+len(batch) > s.nCtx {
		return fmt.Errorf("%w: %d + %d > %d", ErrContextFull, pos, len(batch), s.nCtx)
	}
	s.tokens = append(s.tokens[:pos], batch...)
	return nil
}

// Restore records tokens as the current context. The server's prompt cache
// does the rest.
func (s *Server) Restore(ctx context.Context, tokens []Token) error {
	s.tokens = s.tokens[:0]
	return s.Evaluate(ctx, tokens, 0)
}

func (s *Server) Sample(ctx context.Context) (Token, error) {
	if len(s.tokens) == 0 {
		return 0, ErrNotEvaluated
	}
	req := completionRequest{
		Prompt:       s.tokens,
		NPredict:     1,
		CachePrompt:  true,
		ReturnTokens: true,
		Temperature:  s.cfg.Sampler.Temperature,
		TopK:         s.cfg.Sampler.TopK,
		TopP:         s.cfg.Sampler.TopP,
		Seed:         s.cfg.Sampler.Seed,
	}
	var resp completionResponse
	if err := s.call(ctx, http.MethodPost, "/completion", req, &resp); err != nil {
		return 0, fmt.Errorf("completion: %w", err)
	}
	if len(resp.Tokens) == 0 {
		return s.cfg.EOS, nil
	}
	tok := resp.Tokens[0]
	s.mu.Lock()
	if _, ok := s.pieces[tok]; !ok {
		s.pieces[tok] = resp.Content
	}
	s.mu.Unlock()
	return tok, nil
}

func (s *Server) Piece(ctx context.Context, tok Token) (string, error) {
	if tok == s.cfg.EOS {
		return "", nil
	}
	s.mu.Lock()
	piece, ok := s.pieces[tok]
	s.mu.Unlock()
	if ok {
		return piece, nil
	}
	var resp detokenizeResponse
	if err := s.call(ctx, http.MethodPost, "/detokenize", detokenizeRequest{Tokens: []Token{tok}}, &resp); err != nil {
		return "", fmt.Errorf("detokenize %d: %w", tok, err)
	}
	s.mu.Lock()
	s.pieces[tok] = resp.Content
	s.mu.Unlock()
	return resp.Content, nil
}

func (s *Server) Tokenize(ctx context.Context, text string, addBOS bool) ([]Token, error) {
	var resp tokenizeResponse
	if err := s.call(ctx, http.MethodPost, "/tokenize", tokenizeRequest{Content: text, AddSpecial: addBOS}, &resp); err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return resp.Tokens, nil
}

func (s *Server) EOS() Token { return s.cfg.EOS }

func (s *Server) ContextSize() int { return s.nCtx }

func (s *Server) Close() error {
	s.cfg.HTTP.CloseIdleConnections()
	return nil
}

func (s *Server) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	resp, err := s.cfg.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(fmt.Errorf("%s %s: decode response", method, path), err)
	}
	return nil
}
