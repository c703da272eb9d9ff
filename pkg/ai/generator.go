package ai

import (
	"context"
	"log"
	"strings"

	"github.com/Abraxas-365/craftable/ai/llm"
	"github.com/Abraxas-365/craftable/ai/providers/aiopenai"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/config"
)

// Generator generación de texto sobre un proveedor LLM. Implementa una
// llamada sincrónica sin reintentos; el motor decide qué hacer con el fallo.
type Generator struct {
	client llm.Client
	config config.AIConfig
}

var _ flow.TextGenerator = (*Generator)(nil)

func NewGenerator(cfg config.AIConfig) *Generator {
	return &Generator{
		client: newLLMClient(cfg.Provider),
		config: cfg,
	}
}

// newLLMClient creates an LLM client based on provider
func newLLMClient(provider string) llm.Client {
	// TODO: Support multiple providers
	switch provider {
	case "openai":
		return *llm.NewClient(aiopenai.NewOpenAIProvider("")) // API key from env
	default:
		// Default to OpenAI
		return *llm.NewClient(aiopenai.NewOpenAIProvider(""))
	}
}

// Generate produce una respuesta a partir del prompt y el historial reciente
func (g *Generator) Generate(ctx context.Context, systemPrompt, prompt string, history []flow.HistoryEntry) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, llm.NewSystemMessage(systemPrompt))
	}
	for _, entry := range history {
		switch entry.Role {
		case "assistant":
			messages = append(messages, llm.NewAssistantMessage(entry.Text))
		default:
			messages = append(messages, llm.NewUserMessage(entry.Text))
		}
	}
	messages = append(messages, llm.NewUserMessage(prompt))

	response, err := g.client.Chat(ctx, messages,
		llm.WithModel(g.config.Model),
		llm.WithTemperature(g.config.Temperature),
		llm.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil {
		return "", errx.Wrap(err, "LLM call failed", errx.TypeExternal)
	}

	text := strings.TrimSpace(response.Message.Content)
	if text == "" {
		return "", errx.New("LLM returned an empty response", errx.TypeExternal)
	}

	log.Printf("🤖 Generated %d chars (model=%s, tokens=%d)",
		len(text), g.config.Model, response.Usage.TotalTokens)
	return text, nil
}
