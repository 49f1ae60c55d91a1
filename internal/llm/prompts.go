package llm

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are in a voice conversation with the user."

// VoiceGuardrails is prepended to every system prompt. Replies are spoken
// sentence by sentence, so formatting would be read out loud.
const VoiceGuardrails = `Your replies are converted to speech.
- Answer in short, complete sentences ending with a period, question mark or exclamation mark.
- Do not use lists, markdown, code blocks, emoji or URLs.
- Keep most replies to one to three sentences unless asked for more.`
