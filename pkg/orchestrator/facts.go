package orchestrator

import (
	"regexp"
	"strings"
)

const factInstruction = "If the user shares critical information (medical, preferences, identity), " +
	"output: [SAVE_FACT: type | content]"

var saveFactPattern = regexp.MustCompile(`\[SAVE_FACT:\s*(\w+)\s*\|\s*(.+?)\]`)

type Fact struct {
	Type    string
	Content string
}

/*
ExtractFacts pulls [SAVE_FACT: type | content] markers out of a reply. It
returns the reply with the markers removed and the facts in order.
*/
func ExtractFacts(reply string) (string, []Fact) {
	var facts []Fact

	for _, match := range saveFactPattern.FindAllStringSubmatch(reply, -1) {
		content := strings.TrimSpace(match[2])

		if content == "" {
			continue
		}

		facts = append(facts, Fact{Type: strings.ToUpper(match[1]), Content: content})
	}

	cleaned := saveFactPattern.ReplaceAllString(reply, "")

	return strings.TrimSpace(cleaned), facts
}
