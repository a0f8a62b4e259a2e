package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Colors is a color identity: a set over the fixed alphabet W U B R G.
// The zero value is the colorless identity.
type Colors uint8

const (
	White Colors = 1 << iota
	Blue
	Black
	Red
	Green
)

// AllColors is the five-color identity
const AllColors = White | Blue | Black | Red | Green

// colorOrder is the canonical WUBRG order used for string forms
var colorOrder = []struct {
	symbol byte
	color  Colors
}{
	{'W', White},
	{'U', Blue},
	{'B', Black},
	{'R', Red},
	{'G', Green},
}

// ParseColors parses a color identity string such as "UG" or "{W}{B}".
// "C" denotes colorless and cannot be combined with other symbols.
func ParseColors(s string) (Colors, error) {
	var c Colors
	colorless := false
	for _, r := range strings.ToUpper(s) {
		switch r {
		case 'W':
			c |= White
		case 'U':
			c |= Blue
		case 'B':
			c |= Black
		case 'R':
			c |= Red
		case 'G':
			c |= Green
		case 'C':
			colorless = true
		case '{', '}', ',', ' ':
		default:
			return 0, fmt.Errorf("unknown color symbol %q", r)
		}
	}
	if colorless && c != 0 {
		return 0, fmt.Errorf("colorless cannot be combined with colors in %q", s)
	}
	return c, nil
}

// MustParseColors is ParseColors for trusted literals
func MustParseColors(s string) Colors {
	c, err := ParseColors(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the canonical WUBRG form, or "C" for colorless
func (c Colors) String() string {
	if c == 0 {
		return "C"
	}
	var b strings.Builder
	for _, o := range colorOrder {
		if c&o.color != 0 {
			b.WriteByte(o.symbol)
		}
	}
	return b.String()
}

// Union returns the combined identity
func (c Colors) Union(other Colors) Colors {
	return c | other
}

// SubsetOf reports whether every color of c is in other
func (c Colors) SubsetOf(other Colors) bool {
	return c&^other == 0
}

// Contains reports whether c includes every color of other
func (c Colors) Contains(other Colors) bool {
	return other.SubsetOf(c)
}

// Count returns the number of colors
func (c Colors) Count() int {
	n := 0
	for _, o := range colorOrder {
		if c&o.color != 0 {
			n++
		}
	}
	return n
}

func (c Colors) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Colors) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseColors(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
