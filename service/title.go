package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	titlePrompt    = "Generate a concise title (max 5 words) for a chat that starts with this message. Only respond with the title, nothing else:\n\n%q"
	titleMaxTokens = 20
	titleMaxWords  = 5
	titleMaxLength = 255
)

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// LLMTitleGenerator asks a chat model for a short title.
type LLMTitleGenerator struct {
	client *goopenai.Client
	model  string
}

func NewLLMTitleGenerator(client *goopenai.Client, model string) *LLMTitleGenerator {
	return &LLMTitleGenerator{client: client, model: model}
}

func (g *LLMTitleGenerator) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: fmt.Sprintf(titlePrompt, firstMessage)},
		},
		MaxTokens:   titleMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("title completion returned no choices")
	}
	return CleanTitle(resp.Choices[0].Message.Content), nil
}

// CleanTitle strips quotes and punctuation models like to add and caps the title at five words.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	title = strings.Trim(title, "\"'`*# ")
	title = strings.TrimSpace(strings.TrimRight(title, ".!"))

	words := strings.Fields(title)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title = strings.Join(words, " ")
	if runes := []rune(title); len(runes) > titleMaxLength {
		title = string(runes[:titleMaxLength])
	}
	return title
}
