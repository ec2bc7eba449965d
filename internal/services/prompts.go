package services

const regularPrompt = "You are a friendly assistant! Keep your responses concise and helpful."

const artifactsPrompt = `When asked to write, draft or edit a longer piece of content such as an essay, an email or a code snippet, put the full content in a single fenced block so it can be shown on its own. Keep short answers in the conversation itself.`

// reasoningModel is the logical model that thinks before answering; it gets
// the plain prompt only.
const reasoningModel = "chat-model-reasoning"

// SystemPrompt selects the system instructions for a logical chat model.
func SystemPrompt(model string) string {
	if model == reasoningModel {
		return regularPrompt
	}
	return regularPrompt + "\n\n" + artifactsPrompt
}
