package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/talkloop/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

type engineOptions struct {
	Engine      string
	LlamaURL    string
	LlamaAPIKey string
	ContextSize int64
	ToyReply    string
	EOS         int64
	Temperature float64
	TopK        int64
	TopP        float64
	Seed        int64
}

func engineFlags(o *engineOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "engine",
			Usage:       "language model engine (server, toy)",
			Value:       "server",
			Destination: &o.Engine,
		},
		&cli.StringFlag{
			Name:        "llama-url",
			Aliases:     []string{"ml"},
			Usage:       "base url of a llama.cpp llama-server",
			Value:       "http://127.0.0.1:8080",
			Destination: &o.LlamaURL,
		},
		&cli.StringFlag{
			Name:        "llama-api-key",
			Usage:       "bearer token for llama-server",
			Sources:     cli.EnvVars("TALKLOOP_LLAMA_API_KEY"),
			Destination: &o.LlamaAPIKey,
		},
		&cli.Int64Flag{
			Name:        "ctx-size",
			Aliases:     []string{"c"},
			Usage:       "context size of the toy engine (llama-server reports its own)",
			Value:       2048,
			Destination: &o.ContextSize,
		},
		&cli.StringFlag{
			Name:        "toy-reply",
			Usage:       "reply the toy engine repeats",
			Value:       "I hear you.\nGeorgi:",
			Destination: &o.ToyReply,
		},
		&cli.Int64Flag{
			Name:        "eos-token",
			Usage:       "end-of-sequence id reported for llama-server",
			Value:       2,
			Destination: &o.EOS,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.30,
			Destination: &o.Temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "top-k sampling parameter",
			Value:       5,
			Destination: &o.TopK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "top-p sampling parameter",
			Value:       0.80,
			Destination: &o.TopP,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed",
			Value:       0,
			Destination: &o.Seed,
		},
	}
}

type dialogueOptions struct {
	Person        string
	Bot           string
	Prompt        string
	PromptFile    string
	VerbosePrompt bool
}

func dialogueFlags(o *dialogueOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "person",
			Aliases:     []string{"pn"},
			Usage:       "person name (used in the prompt and as the stop string)",
			Value:       "Georgi",
			Destination: &o.Person,
		},
		&cli.StringFlag{
			Name:        "bot-name",
			Aliases:     []string{"bn"},
			Usage:       "bot name",
			Value:       "Aura",
			Destination: &o.Bot,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Usage:       "prompt template text (placeholders {0}..{4})",
			Destination: &o.Prompt,
		},
		&cli.StringFlag{
			Name:        "prompt-file",
			Usage:       "read the prompt template from a file",
			Destination: &o.PromptFile,
		},
		&cli.BoolFlag{
			Name:        "verbose-prompt",
			Aliases:     []string{"vp"},
			Usage:       "print the rendered prompt at startup",
			Destination: &o.VerbosePrompt,
		},
	}
}

type sessionOptions struct {
	Path    string
	Backend string
	Name    string
}

func sessionFlags(o *sessionOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Usage:       "file (or badger directory) that caches the evaluated prompt between runs",
			Destination: &o.Path,
		},
		&cli.StringFlag{
			Name:        "session-backend",
			Usage:       "session storage (file, badger)",
			Value:       "file",
			Destination: &o.Backend,
		},
		&cli.StringFlag{
			Name:        "session-name",
			Usage:       "session key inside a badger database",
			Value:       "default",
			Destination: &o.Name,
		},
	}
}

type captureOptions struct {
	Source       string
	Command      string
	Format       string
	BufferMs     int64
	VADThreshold float64
	FreqCutoff   float64
	VADMs        int64
	CommandMs    int64
	PollMs       int64
	WarmUpMs     int64
	PrintEnergy  bool
}

func captureFlags(o *captureOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "capture",
			Usage:       "raw mono 16 kHz capture stream: file, fifo or - for stdin",
			Value:       "-",
			Destination: &o.Source,
		},
		&cli.StringFlag{
			Name:        "capture-cmd",
			Usage:       "command whose stdout is the capture stream (e.g. arecord -q -f S16_LE -r 16000 -c 1 -t raw)",
			Destination: &o.Command,
		},
		&cli.StringFlag{
			Name:        "capture-format",
			Usage:       "capture sample format (s16le, f32le, ulaw, alaw)",
			Value:       "s16le",
			Destination: &o.Format,
		},
		&cli.Int64Flag{
			Name:        "capture-buffer-ms",
			Usage:       "length of the rolling capture buffer",
			Value:       30000,
			Destination: &o.BufferMs,
		},
		&cli.Float64Flag{
			Name:        "vad-thold",
			Aliases:     []string{"vth"},
			Usage:       "voice activity detection threshold",
			Value:       0.4,
			Destination: &o.VADThreshold,
		},
		&cli.Float64Flag{
			Name:        "freq-thold",
			Aliases:     []string{"fth"},
			Usage:       "high-pass frequency cutoff in Hz",
			Value:       100,
			Destination: &o.FreqCutoff,
		},
		&cli.Int64Flag{
			Name:        "vad-ms",
			Usage:       "recent audio probed for a finished utterance",
			Value:       1500,
			Destination: &o.VADMs,
		},
		&cli.Int64Flag{
			Name:        "command-ms",
			Usage:       "audio handed to the recognizer once speech ended",
			Value:       3000,
			Destination: &o.CommandMs,
		},
		&cli.Int64Flag{
			Name:        "poll-ms",
			Usage:       "delay between capture probes",
			Value:       100,
			Destination: &o.PollMs,
		},
		&cli.Int64Flag{
			Name:        "warmup-ms",
			Usage:       "audio discarded at startup",
			Value:       3000,
			Destination: &o.WarmUpMs,
		},
		&cli.BoolFlag{
			Name:        "print-energy",
			Aliases:     []string{"pe"},
			Usage:       "log speech energy of every probe",
			Destination: &o.PrintEnergy,
		},
	}
}

type recognizerOptions struct {
	URL            string
	APIKey         string
	Model          string
	Language       string
	Translate      bool
	BeamSize       int64
	BestOf         int64
	Temperature    float64
	TemperatureInc float64
	NoFallback     bool
	Entropy        float64
	Logprob        float64
	NoSpeech       float64
	Grammar        string
	GrammarRule    string
	GrammarPenalty float64
	InitialPrompt  string
	PrintProgress  bool
	ProgressStep   int64
}

func recognizerFlags(o *recognizerOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "whisper-url",
			Usage:       "base url of an OpenAI compatible transcription API",
			Value:       "http://127.0.0.1:8178/v1",
			Destination: &o.URL,
		},
		&cli.StringFlag{
			Name:        "whisper-api-key",
			Usage:       "API key for the transcription endpoint",
			Sources:     cli.EnvVars("TALKLOOP_WHISPER_API_KEY", "OPENAI_API_KEY"),
			Destination: &o.APIKey,
		},
		&cli.StringFlag{
			Name:        "whisper-model",
			Aliases:     []string{"mw"},
			Usage:       "transcription model name",
			Value:       "whisper-1",
			Destination: &o.Model,
		},
		&cli.StringFlag{
			Name:        "language",
			Aliases:     []string{"l"},
			Usage:       "spoken language",
			Value:       "en",
			Destination: &o.Language,
		},
		&cli.BoolFlag{
			Name:        "translate",
			Aliases:     []string{"tr"},
			Usage:       "translate speech to English",
			Destination: &o.Translate,
		},
		&cli.Int64Flag{
			Name:        "beam-size",
			Aliases:     []string{"bs"},
			Usage:       "beam size for beam search",
			Value:       5,
			Destination: &o.BeamSize,
		},
		&cli.Int64Flag{
			Name:        "best-of",
			Aliases:     []string{"bo"},
			Usage:       "number of best candidates to keep",
			Value:       5,
			Destination: &o.BestOf,
		},
		&cli.Float64Flag{
			Name:        "whisper-temp",
			Aliases:     []string{"tp"},
			Usage:       "initial decoding temperature",
			Destination: &o.Temperature,
		},
		&cli.Float64Flag{
			Name:        "temperature-inc",
			Aliases:     []string{"tpi"},
			Usage:       "temperature step for fallback decoding",
			Value:       0.2,
			Destination: &o.TemperatureInc,
		},
		&cli.BoolFlag{
			Name:        "no-fallback",
			Aliases:     []string{"nf"},
			Usage:       "do not use temperature fallback while decoding",
			Destination: &o.NoFallback,
		},
		&cli.Float64Flag{
			Name:        "entropy-thold",
			Aliases:     []string{"et"},
			Usage:       "entropy threshold for decoder fallback",
			Value:       2.4,
			Destination: &o.Entropy,
		},
		&cli.Float64Flag{
			Name:        "logprob-thold",
			Aliases:     []string{"lpt"},
			Usage:       "log probability threshold for decoder fallback",
			Value:       -1,
			Destination: &o.Logprob,
		},
		&cli.Float64Flag{
			Name:        "no-speech-thold",
			Aliases:     []string{"nth"},
			Usage:       "no speech threshold",
			Value:       0.6,
			Destination: &o.NoSpeech,
		},
		&cli.StringFlag{
			Name:        "grammar",
			Usage:       "GBNF grammar to guide decoding",
			Destination: &o.Grammar,
		},
		&cli.StringFlag{
			Name:        "grammar-rule",
			Usage:       "top-level GBNF grammar rule name",
			Destination: &o.GrammarRule,
		},
		&cli.Float64Flag{
			Name:        "grammar-penalty",
			Usage:       "scales down logits of tokens outside the grammar",
			Value:       100,
			Destination: &o.GrammarPenalty,
		},
		&cli.StringFlag{
			Name:        "initial-prompt",
			Usage:       "text that primes the recognizer",
			Destination: &o.InitialPrompt,
		},
		&cli.BoolFlag{
			Name:        "print-progress",
			Aliases:     []string{"pp"},
			Usage:       "log recognizer progress",
			Destination: &o.PrintProgress,
		},
		&cli.Int64Flag{
			Name:        "progress-step",
			Usage:       "progress granularity in percent",
			Value:       5,
			Destination: &o.ProgressStep,
		},
	}
}

type outputOptions struct {
	Speak       string
	SpeakFile   string
	VoiceID     int64
	NPrev       int64
	MaxTokens   int64
	ControlAddr string
	Commands    string
}

func outputFlags(o *outputOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "speak",
			Aliases:     []string{"s"},
			Usage:       "text-to-speech command, run as <command> <voice-id> <file>",
			Destination: &o.Speak,
		},
		&cli.StringFlag{
			Name:        "speak-file",
			Aliases:     []string{"sf"},
			Usage:       "scratch file the reply is written to before speaking",
			Value:       filepath.Join(os.TempDir(), "talkloop-to-speak.txt"),
			Destination: &o.SpeakFile,
		},
		&cli.Int64Flag{
			Name:        "voice-id",
			Aliases:     []string{"vid"},
			Usage:       "voice id passed to the speak command",
			Value:       2,
			Destination: &o.VoiceID,
		},
		&cli.Int64Flag{
			Name:        "n-prev",
			Usage:       "history tokens carried over when the context overflows",
			Value:       64,
			Destination: &o.NPrev,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "cap on sampled tokens per reply (0 = until the stop string)",
			Destination: &o.MaxTokens,
		},
		&cli.StringFlag{
			Name:        "control-addr",
			Usage:       "address of the HTTP control API (empty disables it)",
			Destination: &o.ControlAddr,
		},
		&cli.StringFlag{
			Name:        "commands",
			Usage:       "read ON/OFF/QUIT lines from stdin (auto, on, off)",
			Value:       "auto",
			Destination: &o.Commands,
		},
	}
}
