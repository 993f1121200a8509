package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/absmach/flotilla/pkg/errors"
)

// InitialVersion labels the deterministic bootstrap model.
const InitialVersion = "v1"

// ParseVersion extracts N from a "vN" label.
func ParseVersion(version string) (uint64, error) {
	if !strings.HasPrefix(version, "v") {
		return 0, errors.ErrUnknownVersion
	}
	n, err := strconv.ParseUint(version[1:], 10, 64)
	if err != nil || n == 0 {
		return 0, errors.ErrUnknownVersion
	}

	return n, nil
}

func FormatVersion(n uint64) string {
	return fmt.Sprintf("v%d", n)
}

// NextVersion returns the successor label of version.
func NextVersion(version string) (string, error) {
	n, err := ParseVersion(version)
	if err != nil {
		return "", err
	}

	return FormatVersion(n + 1), nil
}
