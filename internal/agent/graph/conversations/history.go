package conversations

import (
	"github.com/cloudwego/eino/schema"

	"github.com/chative-estimate/server/internal/agent/model"
)

// History converts the settled turns of a chat into backend messages, keeping
// only the last maxTurns. Turns with no text are skipped.
func History(turns []model.Turn, maxTurns int) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		switch t.Role {
		case model.RoleUser:
			messages = append(messages, schema.UserMessage(t.Text))
		case model.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(t.Text, nil))
		}
	}
	return trimTail(messages, maxTurns)
}

func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 {
		return nil
	}
	if len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
