package runner

import "fmt"

// cannedPrompts is the pool used in random prompt mode.
var cannedPrompts = [...]string{
	"Explain the difference between TCP and UDP in two sentences.",
	"Write a haiku about distributed systems.",
	"Summarize the plot of Hamlet in one paragraph.",
	"What are three tips for writing readable code?",
	"Translate 'good morning, how are you?' into French and Spanish.",
	"Give me a short recipe for a vegetarian pasta dish.",
	"Describe how a hash map works to a new programmer.",
	"List five creative names for a coffee shop.",
	"What causes the seasons on Earth?",
	"Suggest a weekend itinerary for a first visit to Lisbon.",
}

const displayPromptLen = 50

// buildPrompt returns the prompt for the request at index. The sequence
// suffix keeps gateway-side response caches from collapsing requests.
func buildPrompt(cfg RunConfig, index int, pick func(n int) int) string {
	base := cfg.Prompt
	if cfg.PromptMode == PromptRandom || base == "" {
		base = cannedPrompts[pick(len(cannedPrompts))]
	}
	return fmt.Sprintf("%s (Request #%d)", base, index+1)
}

func truncatePrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= displayPromptLen {
		return prompt
	}
	return string(runes[:displayPromptLen]) + "..."
}
