package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

const systemInstructionsOpenTag = "<system_instructions>"

// gatewayBoilerplateTemplate is the gateway's own fixed system preamble, always present
// unless the caller's prompt is already wrapped in <system_instructions>.
const gatewayBoilerplateTemplate = "You are a helpful assistant. Today's date is %s."

// ResolveSystemPrompt picks the effective system prompt for a turn, in priority order:
//  1. a leading role:"system" message in the request
//  2. bodySystemPrompt, an explicit override carried outside the message list
//  3. storedSystemPrompt, persisted on the conversation from a prior turn
//
// If none apply, a date-only default is used. A prompt that is already wrapped in
// <system_instructions> passes through unwrapped; otherwise it is nested inside the
// gateway's own boilerplate as <user_instructions>.
func ResolveSystemPrompt(messages []chatapi.Message, bodySystemPrompt, storedSystemPrompt string, now time.Time) string {
	custom := ""
	if len(messages) > 0 && messages[0].Role == "system" {
		custom = messages[0].Content.AsString()
	} else if bodySystemPrompt != "" {
		custom = bodySystemPrompt
	} else if storedSystemPrompt != "" {
		custom = storedSystemPrompt
	}

	if custom == "" {
		return fmt.Sprintf(gatewayBoilerplateTemplate, now.Format("2006-01-02"))
	}
	if strings.Contains(custom, systemInstructionsOpenTag) {
		return custom
	}

	boilerplate := fmt.Sprintf(gatewayBoilerplateTemplate, now.Format("2006-01-02"))
	return fmt.Sprintf("<system_instructions>%s</system_instructions>\n\n<user_instructions>%s</user_instructions>", boilerplate, custom)
}

// StripLeadingSystemMessage returns messages without a leading role:"system" entry,
// since ResolveSystemPrompt has already folded it into the effective prompt.
func StripLeadingSystemMessage(messages []chatapi.Message) []chatapi.Message {
	if len(messages) > 0 && messages[0].Role == "system" {
		return messages[1:]
	}
	return messages
}

// PrependSystemMessage returns a new slice with prompt injected as the first message,
// replacing any existing leading system message.
func PrependSystemMessage(messages []chatapi.Message, prompt string) []chatapi.Message {
	rest := StripLeadingSystemMessage(messages)
	out := make([]chatapi.Message, 0, len(rest)+1)
	out = append(out, chatapi.Message{Role: "system", Content: chatapi.Content{Text: prompt}})
	out = append(out, rest...)
	return out
}
