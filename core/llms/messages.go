package llms

// Role describes who authored a message in the conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Prompt is the full context handed to an engine for one generation: the
// system-level instructions (persona) followed by the ordered history, whose
// last entry is the new input.
type Prompt struct {
	Instructions string
	History      []Message
}
