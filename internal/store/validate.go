package store

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	idRE       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	filenameRE = regexp.MustCompile(`^[A-Za-z0-9 _.-]+$`)
)

// IsValidID reports whether id is acceptable as a local novel id.
func IsValidID(id string) bool {
	return idRE.MatchString(id)
}

// IsValidFilename reports whether name is acceptable as a book, chapter,
// remote novel or backup name. It never contains a path separator nor "..",
// and is never "." which would resolve to its parent directory.
func IsValidFilename(name string) bool {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filenameRE.MatchString(name)
}

func checkID(id string) error {
	if !IsValidID(id) {
		return fmt.Errorf("%w: novel id %q", ErrInvalidArgument, id)
	}
	return nil
}

func checkName(kind, name string) error {
	if !IsValidFilename(name) {
		return fmt.Errorf("%w: %s name %q", ErrInvalidArgument, kind, name)
	}
	return nil
}
