package analysis

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

const defaultMaxTokens = 1024

const summarySystemPrompt = `You are a news editor. Summarize the article for a chat channel.

Rules:
1. Two to four sentences, neutral tone
2. Keep all facts: numbers, names, dates
3. No preamble, no markdown headings
4. Answer in the language of the article`

const summaryUserPrompt = `Title: {{.Title}}
{{if .Categories}}Categories: {{join .Categories ", "}}
{{end}}Link: {{.Link}}

{{.Body}}`

type promptTemplate struct {
	System    string `yaml:"system"`
	User      string `yaml:"user"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type compiledPrompt struct {
	system    *template.Template
	user      *template.Template
	maxTokens int64
}

// PromptManager renders analysis prompts per purpose from templates.
type PromptManager struct {
	prompts map[string]compiledPrompt
	mu      sync.RWMutex
}

func NewPromptManager() *PromptManager {
	pm := &PromptManager{prompts: make(map[string]compiledPrompt)}

	// The built-in template is a constant and always compiles.
	_ = pm.Register("summary", summarySystemPrompt, summaryUserPrompt, defaultMaxTokens)

	return pm
}

// LoadFile adds or replaces templates from a YAML file mapping purpose to
// {system, user, max_tokens}.
func (pm *PromptManager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var templates map[string]promptTemplate
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}

	for purpose, tmpl := range templates {
		if err := pm.Register(purpose, tmpl.System, tmpl.User, tmpl.MaxTokens); err != nil {
			return err
		}
	}

	return nil
}

func (pm *PromptManager) Register(purpose, system, user string, maxTokens int64) error {
	if purpose == "" {
		return fmt.Errorf("prompt purpose is required")
	}
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("prompt '%s' has no user template", purpose)
	}

	funcs := template.FuncMap{"join": strings.Join}

	systemTmpl, err := template.New(purpose + ".system").Funcs(funcs).Option("missingkey=error").Parse(system)
	if err != nil {
		return fmt.Errorf("invalid system template for '%s': %w", purpose, err)
	}
	userTmpl, err := template.New(purpose + ".user").Funcs(funcs).Option("missingkey=error").Parse(user)
	if err != nil {
		return fmt.Errorf("invalid user template for '%s': %w", purpose, err)
	}

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.prompts[purpose] = compiledPrompt{system: systemTmpl, user: userTmpl, maxTokens: maxTokens}

	return nil
}

type promptData struct {
	Title      string
	Link       string
	Body       string
	Categories []string
	FeedID     string
	Published  string
}

// Render builds the prompt of a purpose for an item. Extracted content is
// preferred over the feed description.
func (pm *PromptManager) Render(purpose string, item Item) (Prompt, error) {
	pm.mu.RLock()
	compiled, ok := pm.prompts[purpose]
	pm.mu.RUnlock()
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}

	data := promptData{
		Title:      item.Title,
		Link:       item.Link,
		Body:       item.Description,
		Categories: item.Categories,
		FeedID:     item.FeedID,
	}
	if strings.TrimSpace(item.Content) != "" {
		data.Body = item.Content
	}
	if item.PublishedAt != nil {
		data.Published = item.PublishedAt.Format("2006-01-02 15:04 MST")
	}

	var system, user bytes.Buffer
	if err := compiled.system.Execute(&system, data); err != nil {
		return Prompt{}, fmt.Errorf("failed to render system prompt: %w", err)
	}
	if err := compiled.user.Execute(&user, data); err != nil {
		return Prompt{}, fmt.Errorf("failed to render user prompt: %w", err)
	}

	return Prompt{
		Purpose:   purpose,
		System:    strings.TrimSpace(system.String()),
		User:      strings.TrimSpace(user.String()),
		MaxTokens: compiled.maxTokens,
	}, nil
}

func (pm *PromptManager) Has(purpose string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.prompts[purpose]
	return ok
}
