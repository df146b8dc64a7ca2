// pkg/geojson/node.go - JSON tree access used by the extractors
package geojson

import (
	"github.com/tidwall/gjson"
)

// Node is the read-only view of a parsed JSON value that the extractors walk.
// Extraction logic depends only on this interface, never on a concrete JSON library.
type Node interface {
	// Member returns the named member of an object node. ok is false when the
	// node is not an object or has no such member.
	Member(name string) (Node, bool)

	IsArray() bool
	IsObject() bool
	IsNumber() bool
	IsString() bool
	IsNull() bool

	// ForEach visits object members (with their names) or array elements
	// (with an empty name) in document order until fn returns false.
	ForEach(fn func(name string, value Node) bool)

	// Number returns the numeric value, or a MalformedError for non-numbers.
	Number() (float64, error)

	// Text returns the string value, or a MalformedError for non-strings.
	Text() (string, error)
}

// Parse validates a JSON document and returns its root node
func Parse(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, newMalformed("$", "empty document")
	}
	if !gjson.ValidBytes(data) {
		return nil, newMalformed("$", "invalid JSON")
	}
	return gjsonNode{result: gjson.ParseBytes(data)}, nil
}

// ParseString is Parse for documents already held as a string
func ParseString(doc string) (Node, error) {
	return Parse([]byte(doc))
}

// gjsonNode implements Node over a gjson.Result
type gjsonNode struct {
	result gjson.Result
}

func (n gjsonNode) Member(name string) (Node, bool) {
	if !n.result.IsObject() {
		return nil, false
	}

	// Scan members instead of using path syntax so names containing
	// '.', '*' or '?' are matched literally.
	var found gjson.Result
	ok := false
	n.result.ForEach(func(key, value gjson.Result) bool {
		if key.Str == name {
			found = value
			ok = true
			return false
		}
		return true
	})
	if !ok {
		return nil, false
	}
	return gjsonNode{result: found}, true
}

func (n gjsonNode) IsArray() bool  { return n.result.IsArray() }
func (n gjsonNode) IsObject() bool { return n.result.IsObject() }
func (n gjsonNode) IsNumber() bool { return n.result.Type == gjson.Number }
func (n gjsonNode) IsString() bool { return n.result.Type == gjson.String }
func (n gjsonNode) IsNull() bool   { return n.result.Type == gjson.Null }

func (n gjsonNode) ForEach(fn func(name string, value Node) bool) {
	if !n.result.IsArray() && !n.result.IsObject() {
		return
	}
	n.result.ForEach(func(key, value gjson.Result) bool {
		return fn(key.Str, gjsonNode{result: value})
	})
}

func (n gjsonNode) Number() (float64, error) {
	if n.result.Type != gjson.Number {
		return 0, newMalformed("", "expected number, got "+n.result.Type.String())
	}
	return n.result.Float(), nil
}

func (n gjsonNode) Text() (string, error) {
	if n.result.Type != gjson.String {
		return "", newMalformed("", "expected string, got "+n.result.Type.String())
	}
	return n.result.Str, nil
}
