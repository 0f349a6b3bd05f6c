package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Float decodes from a JSON number or a numeric string ("2.5", "3h").
// Unparseable values decode as zero rather than failing the whole document.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	*f = Float(parseNumber(string(b)))
	return nil
}

// Int decodes like Float and truncates toward zero.
type Int int

func (i *Int) UnmarshalJSON(b []byte) error {
	*i = Int(int(parseNumber(string(b))))
	return nil
}

// Text decodes from any JSON scalar; null becomes "".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err == nil {
			*t = Text(str)
			return nil
		}
	}
	*t = Text(s)
	return nil
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.TrimSpace(s)
	// Keep the leading numeric run: "2.5 hours" -> "2.5".
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}
