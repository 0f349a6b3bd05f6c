// Package normalize recovers JSON values from free-form model responses.
//
// Models wrap JSON in commentary, markdown fences, trailing commas, or line
// comments. Extract tries, in order: the whole text, the first fence labelled
// json, then any fenced block. Each candidate is also retried after cleanup.
// Callers treat a failure as "use the default for this stage", never as fatal.
package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoJSON is returned when no JSON value can be recovered.
	ErrNoJSON = errors.New("no JSON value found in response")
	// ErrShape is returned when the JSON value has an unusable shape.
	ErrShape = errors.New("unexpected JSON shape")
)

var (
	// fencePattern matches a fenced block; group 1 is everything between the fences.
	fencePattern = regexp.MustCompile("(?s)```(.*?)```")
	// labelPattern matches a fence info string such as "json" or "JSON5".
	labelPattern = regexp.MustCompile(`^[A-Za-z0-9_+.-]*$`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

type fence struct {
	label string
	body  string
}

// Extract returns the first JSON value recoverable from text.
func Extract(text string) (json.RawMessage, error) {
	if raw, ok := parse(text); ok {
		return raw, nil
	}

	fences := findFences(text)
	for _, f := range fences {
		if strings.EqualFold(f.label, "json") {
			if raw, ok := parse(f.body); ok {
				return raw, nil
			}
			break
		}
	}
	for _, f := range fences {
		if raw, ok := parse(f.body); ok {
			return raw, nil
		}
	}
	return nil, ErrNoJSON
}

// findFences lists fenced blocks in order of appearance, splitting off the
// info string when the opening fence carries one.
func findFences(text string) []fence {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	out := make([]fence, 0, len(matches))
	for _, m := range matches {
		inner := m[1]
		f := fence{body: inner}
		if first, rest, ok := strings.Cut(inner, "\n"); ok {
			if label := strings.TrimSpace(first); labelPattern.MatchString(label) {
				f.label = label
				f.body = rest
			}
		}
		out = append(out, f)
	}
	return out
}

func parse(candidate string) (json.RawMessage, bool) {
	s := strings.TrimSpace(candidate)
	if s == "" {
		return nil, false
	}
	if gjson.Valid(s) {
		return json.RawMessage(s), true
	}
	if cleaned := clean(s); cleaned != s && gjson.Valid(cleaned) {
		return json.RawMessage(cleaned), true
	}
	return nil, false
}

// clean removes // line comments outside string values and trailing commas.
func clean(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// AsObject returns raw unchanged when it is an object. A bare array is wrapped
// as {listKey: array} so callers decode a single canonical shape.
func AsObject(raw json.RawMessage, listKey string) (json.RawMessage, error) {
	r := gjson.ParseBytes(raw)
	switch {
	case r.IsObject():
		return raw, nil
	case r.IsArray():
		wrapped, err := json.Marshal(map[string]json.RawMessage{listKey: raw})
		if err != nil {
			return nil, err
		}
		return wrapped, nil
	default:
		return nil, ErrShape
	}
}

// DecodeList decodes a list that may arrive as a bare array, as an object
// holding the array under one of keys, as an object with a single array
// field, or as one bare object (a one-element list).
func DecodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	r := gjson.ParseBytes(raw)
	var list string
	switch {
	case r.IsArray():
		list = r.Raw
	case r.IsObject():
		for _, k := range keys {
			if v := r.Get(gjson.Escape(k)); v.IsArray() {
				list = v.Raw
				break
			}
		}
		if list == "" {
			var arrays []string
			r.ForEach(func(_, v gjson.Result) bool {
				if v.IsArray() {
					arrays = append(arrays, v.Raw)
				}
				return true
			})
			if len(arrays) == 1 {
				list = arrays[0]
			}
		}
		if list == "" {
			list = "[" + r.Raw + "]"
		}
	default:
		return nil, ErrShape
	}

	var out []T
	if err := json.Unmarshal([]byte(list), &out); err != nil {
		return nil, err
	}
	return out, nil
}
