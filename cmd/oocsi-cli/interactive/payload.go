package interactive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParsePayload turns shell arguments into an event payload. The arguments
// are either one JSON object (possibly split on spaces) or key=value pairs
// whose values are typed as bool, number or string.
func ParsePayload(args []string) (map[string]any, error) {
	payload := make(map[string]any)
	if len(args) == 0 {
		return payload, nil
	}

	joined := strings.Join(args, " ")
	if strings.HasPrefix(joined, "{") {
		if err := json.Unmarshal([]byte(joined), &payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		payload[key] = parseValue(value)
	}
	return payload, nil
}

func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
