// Package prompt renders the dialogue prompt that primes the language model.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ChatSymbol separates a speaker name from what they say.
const ChatSymbol = ":"

// Default is the built-in dialogue. Placeholders: {0} person, {1} bot,
// {2} local time as HH:MM, {3} year, {4} chat symbol.
const Default = `Transcript of an endless spoken conversation between {0} and a voice assistant called {1}.
{1} is patient, friendly and honest, and answers every question from {0} right away, accurately and in detail.
The transcript has no stage directions such as (pauses) or (laughs), only the words {0} and {1} say out loud.
It contains plain text only, never HTML or Markdown.
{1} keeps answers short.

{0}{4} Hi, {1}!
{1}{4} Hi {0}! What can I do for you?
{0}{4} What time is it?
{1}{4} It is {2} right now.
{0}{4} Which year is it?
{1}{4} It is {3}.
{0}{4} What is a cat?
{1}{4} A cat is a small carnivorous mammal, the only domesticated member of the family Felidae.
{0}{4} Name a color.
{1}{4} Green
{0}{4}`

// Vars fills the template placeholders.
type Vars struct {
	Person string
	Bot    string
	Now    time.Time
}

// Render substitutes vars into tmpl and prepends the single space the
// tokenizer expects in front of the first word.
func Render(tmpl string, v Vars) string {
	now := v.Now
	if now.IsZero() {
		now = time.Now()
	}
	r := strings.NewReplacer(
		"{0}", v.Person,
		"{1}", v.Bot,
		"{2}", now.Format("15:04"),
		"{3}", now.Format("2006"),
		"{4}", ChatSymbol,
	)
	return " " + r.Replace(tmpl)
}

// Load reads a template from path. An empty path selects Default.
func Load(path string) (string, error) {
	if path == "" {
		return Default, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt: read %s: %w", path, err)
	}
	return strings.TrimRight(string(raw), "\n"), nil
}

// Antiprompt is the text that hands the turn back to person.
func Antiprompt(person string) string { return person + ChatSymbol }

// Turn wraps a user utterance so the model answers as bot.
func Turn(text, bot string) string {
	return " " + text + "\n" + bot + ChatSymbol
}
