package provider

import (
	"encoding/json"

	"github.com/charmbracelet/log"
)

/*
rawArguments keeps model-produced arguments as JSON when they parse, so they
can be echoed back verbatim.
*/
func rawArguments(arguments string) any {
	if arguments == "" {
		return map[string]any{}
	}

	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}

	return map[string]any{}
}

/*
decodeArguments parses a tool call's JSON arguments into a map for SDKs that
want structured values.
*/
func decodeArguments(arguments string) map[string]any {
	out := map[string]any{}

	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &out); err != nil {
			log.Debug("tool arguments are not a JSON object", "error", err)
		}
	}

	return out
}

func encodeArguments(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}

	buf, err := json.Marshal(args)

	if err != nil {
		return "{}", err
	}

	return string(buf), nil
}
