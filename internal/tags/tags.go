// Package tags validates and substitutes #TAG# placeholders in template
// sections. Validate and Replace share one placeholder grammar so that every
// reported missing tag corresponds to a placeholder Replace would leave behind.
package tags

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// PageBreak separates consecutive sections in the merged document.
const PageBreak = "<pagebreak>"

var placeholderRegex = regexp.MustCompile(`#([A-Z_]+)#`)

var tagNameRegex = regexp.MustCompile(`^[A-Z_]+$`)

// IsTagName reports whether name is a valid payload key.
func IsTagName(name string) bool {
	return tagNameRegex.MatchString(name)
}

// MissingTagMessage is the message reported for a placeholder absent from the payload.
func MissingTagMessage(name string) string {
	return fmt.Sprintf("A tag '#%s#' é necessária no payload.", name)
}

// Extract returns the distinct tag names used by the sections, in order of
// first appearance with sections taken in ascending order.
func Extract(sections []models.Section) []string {
	seen := map[string]bool{}
	var names []string
	for _, section := range ordered(sections) {
		for _, match := range placeholderRegex.FindAllStringSubmatch(section.HTMLContent, -1) {
			name := match[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Validate returns one message per placeholder whose name is not a key of
// payload. An empty result means the payload is sufficient.
func Validate(sections []models.Section, payload map[string]string) []string {
	messages := []string{}
	for _, name := range Extract(sections) {
		if _, ok := payload[name]; !ok {
			messages = append(messages, MissingTagMessage(name))
		}
	}
	return messages
}

// Replace substitutes payload values into each section and joins the results,
// each followed by PageBreak. Placeholders without a payload value are kept.
func Replace(sections []models.Section, payload map[string]string) string {
	var b strings.Builder
	for _, section := range ordered(sections) {
		b.WriteString(placeholderRegex.ReplaceAllStringFunc(section.HTMLContent, func(placeholder string) string {
			if value, ok := payload[strings.Trim(placeholder, "#")]; ok {
				return value
			}
			return placeholder
		}))
		b.WriteString(PageBreak)
	}
	return b.String()
}

func ordered(sections []models.Section) []models.Section {
	out := make([]models.Section, len(sections))
	copy(out, sections)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SectionOrder < out[j].SectionOrder
	})
	return out
}
