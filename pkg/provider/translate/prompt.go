package translate

import (
	"fmt"
	"strings"

	"github.com/MrWong99/purescribe/pkg/language"
)

// SystemPrompt returns the instruction given to chat-style models for req.
func SystemPrompt(req Request) string {
	return fmt.Sprintf(
		"You are a translation engine. Translate the user's text from %s to %s. "+
			"The text is a speech transcript split into lines. Keep the same number of lines in the same order. "+
			"Reply with the translation only, without notes, quotes or explanations.",
		language.Name(req.Source), language.Name(req.Target),
	)
}

// UserPrompt joins the request lines into the user message.
func UserPrompt(req Request) string {
	lines := make([]string, 0, len(req.Text))
	for _, l := range req.Text {
		lines = append(lines, strings.TrimSpace(l))
	}
	return strings.Join(lines, "\n")
}
