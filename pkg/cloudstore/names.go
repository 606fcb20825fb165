package cloudstore

import (
	"strings"
	"unicode/utf8"
)

// MaxDisplayNameBytes bounds display names.
const MaxDisplayNameBytes = 255

// sharedCopyPrefix is prepended to the display name of accepted copies.
const sharedCopyPrefix = "Shared_"

// ValidateDisplayName rejects names that could be read as paths.
func ValidateDisplayName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case len(name) > MaxDisplayNameBytes:
		return ErrInvalidName
	case !utf8.ValidString(name):
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	case strings.TrimSpace(name) == "":
		return ErrInvalidName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidName
		}
	}
	return nil
}

// sharedCopyName names the recipient's copy, trimming the source name so
// the result stays within MaxDisplayNameBytes.
func sharedCopyName(source string) string {
	name := sharedCopyPrefix + source
	if len(name) <= MaxDisplayNameBytes {
		return name
	}
	name = name[:MaxDisplayNameBytes]
	for !utf8.ValidString(name) {
		name = name[:len(name)-1]
	}
	return name
}
