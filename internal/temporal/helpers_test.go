package temporal

import (
	"errors"
	"strings"
)

var errTest = errors.New("connection reset")

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
