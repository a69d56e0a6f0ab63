package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgallion1/mdplan/internal/doctree"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// DefaultPattern matches prompt part files inside a prompts directory.
const DefaultPattern = "user_prompt_part*.md"

// DefaultInstruction is used when no prompt part files exist.
const DefaultInstruction = `Process the following markdown section of a larger document.

Rules:
- Keep the original heading structure and order
- Do not invent content that is not in the section
- Text between overlap markers repeats the end of the previous section; use it only as context

Respond with markdown only.`

// Part is one user prompt applied to every chunk.
type Part struct {
	Index int    `json:"index"` // 1-based
	Label string `json:"label"` // part1, part2, ...
	Name  string `json:"name"`  // file stem, for display
	Path  string `json:"path,omitempty"`
	Text  string `json:"-"`
}

// Hash identifies the prompt text, for skip-if-unchanged caching.
func (p Part) Hash() string {
	return doctree.ContentHash(p.Text)
}

// Single wraps one instruction as the only part.
func Single(text string) []Part {
	if strings.TrimSpace(text) == "" {
		text = DefaultInstruction
	}
	return []Part{{Index: 1, Label: "part1", Name: "default", Text: text}}
}

// Load reads prompt parts from dir sorted by file name. With no matching
// files it returns the default single part.
func Load(dir, pattern string) ([]Part, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if dir == "" {
		return Single(""), nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob prompt parts: %w", err)
	}
	if len(paths) == 0 {
		return Single(""), nil
	}
	sort.Strings(paths)

	parts := make([]Part, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt part %s: %w", path, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("prompt part %s is empty", path)
		}
		parts = append(parts, Part{
			Index: i + 1,
			Label: fmt.Sprintf("part%d", i+1),
			Name:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path:  path,
			Text:  text,
		})
	}
	return parts, nil
}

// Overhead is the fixed prompt cost of one request: the system prompt plus
// the largest part.
func Overhead(counter tokens.Counter, system string, parts []Part) int {
	largest := 0
	for _, p := range parts {
		if n := counter.Count(p.Text); n > largest {
			largest = n
		}
	}
	return counter.Count(system) + largest
}

// Compose builds the user message for one (chunk, part) request: the part
// instruction, a short context header, then the rendered chunk.
func Compose(part Part, docName string, chunk doctree.Chunk, total int) string {
	var sb strings.Builder
	sb.WriteString(part.Text)
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "Document: %q\n", docName)
	fmt.Fprintf(&sb, "Chunk: %s (%d/%d)\n", chunk.ID, chunk.Index, total)
	if len(chunk.Sections) > 0 {
		sb.WriteString("Sections: ")
		sb.WriteString(strings.Join(chunk.Sections, " > "))
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(chunk.Render())
	return sb.String()
}
