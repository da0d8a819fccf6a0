package llm

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrPromptTooLarge is returned when the rendered turns exceed the character
// ceiling. It fails the send before any provider call is attempted.
var ErrPromptTooLarge = errors.New("prompt exceeds maximum size")

// RenderPrompt assembles the ordered turn list for a provider request:
// one system turn (base prompt plus appended context blocks), then the
// conversation history restricted to user/assistant roles, then the new user
// turn last. maxChars bounds the total text across all turns.
func RenderPrompt(systemPrompt string, history []Turn, contextBlocks []string, userText string, maxChars int) ([]Turn, error) {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	for _, block := range contextBlocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		sys.WriteString("\n\n")
		sys.WriteString(block)
	}

	turns := make([]Turn, 0, len(history)+2)
	turns = append(turns, Turn{Role: RoleSystem, Text: sys.String()})

	for _, h := range history {
		// Embedded system turns from history never reach the provider;
		// the system prompt is rebuilt fresh on every send.
		if h.Role != RoleUser && h.Role != RoleAssistant {
			continue
		}
		turns = append(turns, h)
	}

	turns = append(turns, Turn{Role: RoleUser, Text: userText})

	total := 0
	for _, t := range turns {
		total += len(t.Text)
	}
	if maxChars > 0 && total > maxChars {
		return nil, errors.Wrapf(ErrPromptTooLarge, "%d chars over %d limit", total, maxChars)
	}

	return turns, nil
}
