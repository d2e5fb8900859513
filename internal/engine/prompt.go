package engine

import (
	"fmt"
	"strings"

	"github.com/nashy3k/momentum/internal/store"
)

const systemInstruction = `You are Momentum, a Shadow Developer agent. Your job is to study a stagnant
repository and propose exactly one small, safe, concrete change that would
restore its momentum: fixing a broken link, updating a stale dependency note,
adding a missing usage example, clarifying setup instructions.

Rules:
- Use list_files and get_file to research before proposing.
- When you are confident, call propose_change exactly once with a specific
  target file, a one-sentence description, and the full proposed content or diff.
- Prefer low-risk documentation and housekeeping changes over code rewrites.
- If a previous proposal was rejected, read the feedback carefully and propose
  something materially different.`

const maxReadmeExcerpt = 4000

// BuildPrompt assembles the opening user turn for a research cycle.
func BuildPrompt(repoRef string, daysSince float64, readme string, lessons []store.Memory) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository %s has been stagnant for %.1f days.\n", repoRef, daysSince)

	if readme != "" {
		excerpt := readme
		if len(excerpt) > maxReadmeExcerpt {
			excerpt = excerpt[:maxReadmeExcerpt] + "\n... (truncated)"
		}
		fmt.Fprintf(&sb, "\nREADME excerpt:\n%s\n", excerpt)
	}

	if len(lessons) > 0 {
		sb.WriteString("\nLessons from previous cycles:\n")
		for _, m := range lessons {
			fmt.Fprintf(&sb, "- [%s] %s\n", m.Type, m.Text)
		}
	}

	sb.WriteString("\nResearch the repository and propose one change.")
	return sb.String()
}
