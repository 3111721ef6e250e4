package util

import (
	"fmt"
	"strconv"
)

// ParseUintParam converts a path or query parameter to uint.
func ParseUintParam(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}
