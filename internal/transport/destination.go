package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Destination identifies a chat: either a numeric chat ID or a public handle
// such as "@channel". The zero value means "no destination".
type Destination struct {
	ID     int64
	Handle string
}

// ChatID returns a numeric destination.
func ChatID(id int64) Destination { return Destination{ID: id} }

// ParseDestination normalizes a raw identifier.
//
// Numeric strings become chat IDs. Anything else (including "@handle" and
// strings that fail numeric conversion) is kept verbatim as a handle.
func ParseDestination(raw string) Destination {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Destination{}
	}
	if strings.HasPrefix(s, "@") {
		return Destination{Handle: s}
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Destination{ID: id}
	}
	return Destination{Handle: s}
}

// ParseDestinations parses a list, dropping empty entries.
func ParseDestinations(raw []string) []Destination {
	out := make([]Destination, 0, len(raw))
	for _, r := range raw {
		d := ParseDestination(r)
		if d.IsZero() {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (d Destination) IsZero() bool { return d.ID == 0 && d.Handle == "" }

func (d Destination) String() string {
	if d.Handle != "" {
		return d.Handle
	}
	if d.ID == 0 {
		return ""
	}
	return strconv.FormatInt(d.ID, 10)
}

// MarshalJSON writes numeric IDs as JSON numbers and handles as strings.
func (d Destination) MarshalJSON() ([]byte, error) {
	if d.Handle != "" {
		return json.Marshal(d.Handle)
	}
	if d.ID == 0 {
		return []byte(`""`), nil
	}
	return []byte(strconv.FormatInt(d.ID, 10)), nil
}

// UnmarshalJSON accepts a JSON number or string.
func (d *Destination) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = Destination{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = ParseDestination(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("destination: expected number or string: %w", err)
	}
	*d = ParseDestination(n.String())
	return nil
}
