package lm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/talkloop/internal/logits"
)

type fakeLlamaServer struct {
	mu      sync.Mutex
	prompts [][]Token
	next    []Token
}

func (f *fakeLlamaServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/props", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"default_generation_settings":{"n_ctx":16}}`))
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req tokenizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode tokenize: %v", err)
		}
		toks := []Token{}
		if req.AddSpecial {
			toks = append(toks, 1)
		}
		for _, b := range []byte(req.Content) {
			toks = append(toks, Token(b))
		}
		_ = json.NewEncoder(w).Encode(tokenizeResponse{Tokens: toks})
	})
	mux.HandleFunc("/detokenize", func(w http.ResponseWriter, r *http.Request) {
		var req detokenizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		buf := make([]byte, 0, len(req.Tokens))
		for _, tok := range req.Tokens {
			buf = append(buf, byte(tok))
		}
		_ = json.NewEncoder(w).Encode(detokenizeResponse{Content: string(buf)})
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode completion: %v", err)
		}
		if req.NPredict != 1 || !req.CachePrompt {
			t.Errorf("unexpected completion request: %+v", req)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.prompts = append(f.prompts, req.Prompt)
		if len(f.next) == 0 {
			_ = json.NewEncoder(w).Encode(completionResponse{StopType: "eos"})
			return
		}
		tok := f.next[0]
		f.next = f.next[1:]
		_ = json.NewEncoder(w).Encode(completionResponse{Content: string(rune(tok)), Tokens: []Token{tok}})
	})
	return mux
}

func TestServerRoundTrip(t *testing.T) {
	t.Parallel()
	fake := &fakeLlamaServer{next: []Token{'o', 'k'}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx := context.Background()
	e, err := NewServer(ctx, ServerConfig{BaseURL: srv.URL + "/", EOS: -1, Sampler: logits.SamplerConfig{Temperature: 0.3}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer func() { _ = e.Close() }()

	if e.ContextSize() != 16 {
		t.Fatalf("expected n_ctx 16, got %d", e.ContextSize())
	}
	toks, err := e.Tokenize(ctx, "hi", true)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if want := []Token{1, 'h', 'i'}; !reflect.DeepEqual(toks, want) {
		t.Fatalf("tokens %v, want %v", toks, want)
	}
	if err := e.Evaluate(ctx, toks, 0); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	tok, err := e.Sample(ctx)
	if err != nil || tok != 'o' {
		t.Fatalf("sample: %d %v", tok, err)
	}
	if piece, _ := e.Piece(ctx, tok); piece != "o" {
		t.Fatalf("piece %q", piece)
	}
	if err := e.Evaluate(ctx, []Token{tok}, 3); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := e.Sample(ctx); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if tok, _ := e.Sample(ctx); tok != e.EOS() {
		t.Fatalf("expected EOS when server returns no tokens, got %d", tok)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if want := []Token{1, 'h', 'i', 'o'}; !reflect.DeepEqual(fake.prompts[1], want) {
		t.Fatalf("second prompt %v, want %v", fake.prompts[1], want)
	}
}

func TestServerRewindTruncates(t *testing.T) {
	t.Parallel()
	fake := &fakeLlamaServer{next: []Token{'x'}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx := context.Background()
	e, err := NewServer(ctx, ServerConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := e.Evaluate(ctx, []Token{1, 2, 3, 4}, 0); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := e.Evaluate(ctx, []Token{9}, 2); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := e.Sample(ctx); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if want := []Token{1, 2, 9}; !reflect.DeepEqual(fake.prompts[0], want) {
		t.Fatalf("prompt %v, want %v", fake.prompts[0], want)
	}
	if err := e.Evaluate(ctx, make([]Token, 20), 0); !errors.Is(err, ErrContextFull) {
		t.Fatalf("expected ErrContextFull, got %v", err)
	}
}

func TestNewServerReportsInitFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading model", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewServer(context.Background(), ServerConfig{BaseURL: srv.URL})
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("expected ErrEngineInit, got %v", err)
	}
}
