// Package intent maps raw user text to a typed task intent using keyword
// heuristics. It never fails: unmatched text classifies as unknown with low
// confidence.
package intent

import "strings"

// Type enumerates the task operations a message can imply.
type Type string

const (
	CreateTask     Type = "create_task"
	UpdateTask     Type = "update_task"
	DeleteTask     Type = "delete_task"
	ViewTasks      Type = "view_tasks"
	SearchTasks    Type = "search_tasks"
	MarkComplete   Type = "mark_complete"
	MarkIncomplete Type = "mark_incomplete"
	Unknown        Type = "unknown"
)

// Intent is the classification of a single user message. Parameters is left
// empty by the classifier; the dispatcher fills it in once it has resolved
// the intent against the task store.
type Intent struct {
	Type              Type           `json:"type"`
	Confidence        float64        `json:"confidence"`
	Parameters        map[string]any `json:"parameters"`
	ExtractedEntities []string       `json:"extracted_entities"`
}

// Keyword families, in evaluation order. A later family that also matches
// overwrites the type while the confidence is a running max, so the retained
// type and confidence can disagree when several families match the same
// text. That behavior is intentional and pinned by tests; see
// TestClassifyOverlappingFamilies.
var families = []struct {
	typ      Type
	keywords []string
}{
	{CreateTask, []string{"add", "create", "new", "make", "task to"}},
	{ViewTasks, []string{"view", "show", "see", "list", "display", "my tasks"}},
	{UpdateTask, []string{"update", "change", "modify", "edit"}},
	{DeleteTask, []string{"delete", "remove", "cancel"}},
	{MarkComplete, []string{"complete", "done", "finish", "completed"}},
	{MarkIncomplete, []string{"incomplete", "not done", "undo", "reopen"}},
}

var greetingWords = []string{"hello", "hi", "hey", "greetings", "help"}
var questionWords = []string{"what", "how", "when", "where", "why"}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {},
}

// Classify inspects the message text and returns the matched intent.
func Classify(text string) Intent {
	lower := strings.ToLower(text)

	typ := Unknown
	confidence := 0.3

	for _, family := range families {
		for _, kw := range family.keywords {
			if strings.Contains(lower, kw) {
				typ = family.typ
				if confidence < 0.8 {
					confidence = 0.8
				}
				break
			}
		}
	}

	if typ == Unknown {
		switch {
		case containsAny(lower, greetingWords):
			confidence = 0.6
		case strings.Contains(text, "?") || containsAny(lower, questionWords):
			confidence = 0.5
		default:
			confidence = 0.3
		}
	}

	return Intent{
		Type:              typ,
		Confidence:        confidence,
		Parameters:        map[string]any{},
		ExtractedEntities: ExtractEntities(text),
	}
}

// ExtractEntities returns a coarse entity list: tokens longer than two
// characters that are not stop words, stripped of punctuation, deduplicated
// in first-seen order.
func ExtractEntities(text string) []string {
	var entities []string
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(text) {
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopWords[strings.ToLower(word)]; stop {
			continue
		}
		clean := stripPunctuation(word)
		if clean == "" {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		entities = append(entities, clean)
	}
	return entities
}

func stripPunctuation(word string) string {
	var b strings.Builder
	for _, r := range word {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// IsTaskIntent reports whether the type routes to the task dispatcher.
func IsTaskIntent(t Type) bool {
	switch t {
	case CreateTask, ViewTasks, UpdateTask, DeleteTask, MarkComplete, MarkIncomplete:
		return true
	}
	return false
}
