package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/retrieval"
)

const (
	memoryHeader  = "[📚 RELEVANT PAST MEMORIES]"
	memoryPreface = "The following are memories from your past conversations with this user:"
	snippetRunes  = 200
)

/*
FormatContext renders retrieved memories as the block appended to the system
instructions. When the block would exceed budget characters, the
lowest-scored memories are dropped first. Nothing fits means no block.
*/
func FormatContext(ranked []retrieval.Ranked, budget int) string {
	kept := append([]retrieval.Ranked(nil), ranked...)

	for len(kept) > 0 {
		block := renderContext(kept)

		if budget <= 0 || utf8.RuneCountInString(block) <= budget {
			return block
		}

		kept = dropLowest(kept)
	}

	return ""
}

func renderContext(ranked []retrieval.Ranked) string {
	lines := []string{memoryHeader, memoryPreface, ""}

	for i, hit := range ranked {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s: %q",
			i+1,
			hit.Record.CreatedAt.Format("2006-01-02"),
			speaker(hit.Record.Role),
			snippet(hit.Record.Content),
		))
	}

	return strings.Join(lines, "\n")
}

/*
dropLowest removes the entry with the lowest score. Among equal scores the
later one goes, so rank order breaks ties.
*/
func dropLowest(ranked []retrieval.Ranked) []retrieval.Ranked {
	lowest := len(ranked) - 1

	for i := len(ranked) - 2; i >= 0; i-- {
		if ranked[i].Score < ranked[lowest].Score {
			lowest = i
		}
	}

	return append(ranked[:lowest], ranked[lowest+1:]...)
}

func speaker(role memory.Role) string {
	if role == memory.RoleUser {
		return "User said"
	}

	return "You said"
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	if utf8.RuneCountInString(content) <= snippetRunes {
		return content
	}

	return string([]rune(content)[:snippetRunes]) + "..."
}
