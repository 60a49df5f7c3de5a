package cvparse

import (
	"strings"
)

// extractText extracts content from a plain text upload.
func extractText(data []byte) (string, []Section, error) {
	// Preserve line structure: CVs rely on it for section boundaries.
	text := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if text == "" {
		return "", nil, nil
	}

	return firstLine(text), []Section{{
		Text: text,
		Type: "paragraph",
	}}, nil
}

// extractMarkdown extracts structured sections from a Markdown upload.
// ATX headings (# lines) become heading sections; blank lines break
// paragraphs.
func extractMarkdown(data []byte) (string, []Section, error) {
	var sections []Section
	var title string
	var currentText strings.Builder

	flushParagraph := func() {
		text := strings.TrimSpace(currentText.String())
		if text != "" {
			sections = append(sections, Section{
				Text: text,
				Type: "paragraph",
			})
		}
		currentText.Reset()
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			flushParagraph()

			level := 0
			for _, ch := range trimmed {
				if ch != '#' {
					break
				}
				level++
			}
			if level > 6 {
				level = 6
			}

			headingText := strings.TrimSpace(strings.Trim(trimmed, "#"))
			if headingText != "" {
				if title == "" {
					title = headingText
				}
				sections = append(sections, Section{
					Title: headingText,
					Level: level,
					Text:  headingText,
					Type:  "heading",
				})
			}
			continue
		}

		if trimmed == "" {
			flushParagraph()
			continue
		}

		if currentText.Len() > 0 {
			currentText.WriteByte(' ')
		}
		currentText.WriteString(trimmed)
	}
	flushParagraph()

	if title == "" && len(sections) > 0 {
		title = firstLine(sections[0].Text)
	}

	return title, sections, nil
}

// firstLine returns the first line of text, capped at 200 characters.
func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
