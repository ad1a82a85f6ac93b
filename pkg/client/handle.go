package client

import (
	"math/rand/v2"
	"strings"
)

// DefaultHandle is the template used when no handle is configured.
const DefaultHandle = "OOCSIClient_####"

// ExpandHandle replaces every '#' in template with a random decimal digit.
// A blank template expands DefaultHandle.
func ExpandHandle(template string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		template = DefaultHandle
	}

	var b strings.Builder
	b.Grow(len(template))
	for _, r := range template {
		if r == '#' {
			b.WriteByte(byte('0' + rand.IntN(10)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
