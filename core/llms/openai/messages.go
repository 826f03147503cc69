package openai

import (
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-live/core/llms"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleAssistant messageRole = "assistant"
)

func toMessages(prompt llms.Prompt) ([]message, error) {
	var history []message
	if err := copier.Copy(&history, prompt.History); err != nil {
		return nil, err
	}

	messages := make([]message, 0, len(history)+1)
	if prompt.Instructions != "" {
		messages = append(messages, message{Role: messageRoleSystem, Content: prompt.Instructions})
	}
	for _, msg := range history {
		// Interrupted responses the listener did not hear anything of are
		// kept in history as empty assistant entries, most endpoints reject
		// those.
		if msg.Role == messageRoleAssistant && msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
