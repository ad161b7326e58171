package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the talkloop configuration file
// (~/.config/talkloop/config.yaml). Numeric fields are pointers so "not set"
// differs from zero.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Language model
	Engine      string   `yaml:"engine"`
	LlamaURL    string   `yaml:"llama_url"`
	ContextSize *int64   `yaml:"ctx_size"`
	Temperature *float64 `yaml:"temperature"`
	TopK        *int64   `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`
	NPrev       *int64   `yaml:"n_prev"`
	MaxTokens   *int64   `yaml:"max_tokens"`

	// Dialogue
	Person     string `yaml:"person"`
	Bot        string `yaml:"bot_name"`
	PromptFile string `yaml:"prompt_file"`

	// Session
	Session        string `yaml:"session"`
	SessionBackend string `yaml:"session_backend"`

	// Capture
	Capture       string   `yaml:"capture"`
	CaptureCmd    string   `yaml:"capture_cmd"`
	CaptureFormat string   `yaml:"capture_format"`
	VADThreshold  *float64 `yaml:"vad_thold"`
	FreqThreshold *float64 `yaml:"freq_thold"`

	// Recognizer
	WhisperURL   string `yaml:"whisper_url"`
	WhisperModel string `yaml:"whisper_model"`
	Language     string `yaml:"language"`
	BeamSize     *int64 `yaml:"beam_size"`

	// Speech
	Speak     string `yaml:"speak"`
	SpeakFile string `yaml:"speak_file"`
	VoiceID   *int64 `yaml:"voice_id"`

	ControlAddr string `yaml:"control_addr"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "talkloop", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config; a
// file that does not parse is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func setString(c *cli.Command, name string, dst *string, v string) {
	if v != "" && !c.IsSet(name) {
		*dst = v
	}
}

func setInt(c *cli.Command, name string, dst *int64, v *int64) {
	if v != nil && !c.IsSet(name) {
		*dst = *v
	}
}

func setFloat(c *cli.Command, name string, dst *float64, v *float64) {
	if v != nil && !c.IsSet(name) {
		*dst = *v
	}
}

// applyEngineConfig fills engine and dialogue options the command line left
// unset.
func applyEngineConfig(c *cli.Command, cfg Config, e *engineOptions, d *dialogueOptions, s *sessionOptions) {
	setString(c, "engine", &e.Engine, cfg.Engine)
	setString(c, "llama-url", &e.LlamaURL, cfg.LlamaURL)
	setInt(c, "ctx-size", &e.ContextSize, cfg.ContextSize)
	setFloat(c, "temp", &e.Temperature, cfg.Temperature)
	setInt(c, "top-k", &e.TopK, cfg.TopK)
	setFloat(c, "top-p", &e.TopP, cfg.TopP)
	setInt(c, "seed", &e.Seed, cfg.Seed)

	setString(c, "person", &d.Person, cfg.Person)
	setString(c, "bot-name", &d.Bot, cfg.Bot)
	if !c.IsSet("prompt") {
		setString(c, "prompt-file", &d.PromptFile, cfg.PromptFile)
	}

	setString(c, "session", &s.Path, cfg.Session)
	setString(c, "session-backend", &s.Backend, cfg.SessionBackend)
}

// applyRunConfig fills the remaining run options.
func applyRunConfig(c *cli.Command, cfg Config, o *runOptions) {
	applyEngineConfig(c, cfg, &o.engine, &o.dialogue, &o.session)

	if !c.IsSet("capture-cmd") {
		setString(c, "capture", &o.capture.Source, cfg.Capture)
	}
	if !c.IsSet("capture") {
		setString(c, "capture-cmd", &o.capture.Command, cfg.CaptureCmd)
	}
	setString(c, "capture-format", &o.capture.Format, cfg.CaptureFormat)
	setFloat(c, "vad-thold", &o.capture.VADThreshold, cfg.VADThreshold)
	setFloat(c, "freq-thold", &o.capture.FreqCutoff, cfg.FreqThreshold)

	setString(c, "whisper-url", &o.recognizer.URL, cfg.WhisperURL)
	setString(c, "whisper-model", &o.recognizer.Model, cfg.WhisperModel)
	setString(c, "language", &o.recognizer.Language, cfg.Language)
	setInt(c, "beam-size", &o.recognizer.BeamSize, cfg.BeamSize)

	setString(c, "speak", &o.output.Speak, cfg.Speak)
	setString(c, "speak-file", &o.output.SpeakFile, cfg.SpeakFile)
	setInt(c, "voice-id", &o.output.VoiceID, cfg.VoiceID)
	setInt(c, "n-prev", &o.output.NPrev, cfg.NPrev)
	setInt(c, "max-tokens", &o.output.MaxTokens, cfg.MaxTokens)
	setString(c, "control-addr", &o.output.ControlAddr, cfg.ControlAddr)
}
