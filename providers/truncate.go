package providers

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// TruncateToTokens cuts text to at most maxTokens cl100k_base tokens. It
// reports whether anything was removed. maxTokens <= 0 disables truncation.
func TruncateToTokens(text string, maxTokens int) (string, bool, error) {
	if maxTokens <= 0 || text == "" {
		return text, false, nil
	}
	tk, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return text, false, fmt.Errorf("failed to load %s encoding: %w", tokenEncoding, err)
	}
	tokens := tk.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false, nil
	}
	return tk.Decode(tokens[:maxTokens]), true, nil
}
