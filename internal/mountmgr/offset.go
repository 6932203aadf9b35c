package mountmgr

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseOffset converts a byte offset expressed as a decimal or
// 0x-prefixed hex string into a non-negative byte count. Partition
// listings from mmls and hex editors are both common sources, so both
// bases are accepted. An empty string is offset zero.
func ParseOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
		if digits == "" {
			return 0, fmt.Errorf("offset %q: no hex digits", s)
		}
	}

	v, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("offset %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("offset %q: must be non-negative", s)
	}
	return v, nil
}
