//go:build unix

package fs

import (
	"fmt"
	"strings"
)

// sanitizeName maps an arbitrary lock name onto a safe file name. Letters,
// digits, dot, dash and underscore pass through; everything else (path
// separators in particular) is percent-escaped byte-wise, so distinct
// names never collide on disk.
func sanitizeName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
			sb.WriteByte(c)
		default:
			sb.WriteString(fmt.Sprintf("%%%02x", c))
		}
	}

	return sb.String()
}
