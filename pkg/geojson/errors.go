// pkg/geojson/errors.go - Malformed document errors
package geojson

import (
	"github.com/pkg/errors"
)

// ErrMalformed matches every MalformedError via errors.Is
var ErrMalformed = errors.New("malformed GeoJSON")

// MalformedError reports a member that is missing or has the wrong JSON type.
// Path locates the offending value, e.g. "features[2].geometry.coordinates[0][1]".
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Path == "" {
		return "malformed GeoJSON: " + e.Reason
	}
	return "malformed GeoJSON at " + e.Path + ": " + e.Reason
}

// Is reports whether target is ErrMalformed
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func newMalformed(path, reason string) *MalformedError {
	return &MalformedError{Path: path, Reason: reason}
}

// missingMember reports a required member that is absent
func missingMember(name string) *MalformedError {
	return newMalformed(name, "missing required member")
}

// withPath prefixes the path of a MalformedError as it unwinds toward the root.
// Other errors pass through unchanged.
func withPath(err error, segment string) error {
	var me *MalformedError
	if !errors.As(err, &me) {
		return err
	}
	switch {
	case me.Path == "":
		me.Path = segment
	case me.Path[0] == '[':
		me.Path = segment + me.Path
	default:
		me.Path = segment + "." + me.Path
	}
	return err
}
