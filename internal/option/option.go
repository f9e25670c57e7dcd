// Package option provides typed, validated, persisted option values for proxyreg.
//
// Options live in named sections of a Store. Each option has a qualified key,
// a kind (integer, boolean or string), a default literal and a current value.
// Proxy records keep one option per field and address it by handle.
package option

import (
	"strconv"
	"strings"
)

// Kind is the value type of an option.
type Kind int

// Option kinds.
const (
	Integer Kind = iota
	Boolean
	String
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Spec describes how an option is validated.
//
// An Integer option with Values is enumerated: its value is the index of one of
// Values, matched case-insensitively. Otherwise an Integer option is bounded by
// Min and Max.
type Spec struct {
	Kind        Kind
	Description string
	Values      []string
	Min         int
	Max         int
}

// Option is a single persisted value. Handles are owned by whoever created them
// and are released with Section.Free.
type Option struct {
	key      string
	spec     Spec
	def      string
	intValue int
	strValue string
	section  *Section
}

// Key returns the qualified key of the option.
func (o *Option) Key() string {
	return o.key
}

// Spec returns the validation rules of the option.
func (o *Option) Spec() Spec {
	return o.spec
}

// Default returns the literal the option was created with.
func (o *Option) Default() string {
	return o.def
}

// Integer returns the value of an Integer or Boolean option.
func (o *Option) Integer() int {
	return o.intValue
}

// Boolean returns the value of a Boolean option.
func (o *Option) Boolean() bool {
	return o.intValue != 0
}

// Text returns the value of a String option.
func (o *Option) Text() string {
	return o.strValue
}

// Literal returns the persisted textual form of the current value.
func (o *Option) Literal() string {
	switch o.spec.Kind {
	case Integer:
		if len(o.spec.Values) > 0 {
			if o.intValue >= 0 && o.intValue < len(o.spec.Values) {
				return o.spec.Values[o.intValue]
			}
			return ""
		}
		return strconv.Itoa(o.intValue)
	case Boolean:
		if o.intValue != 0 {
			return "on"
		}
		return "off"
	default:
		return o.strValue
	}
}

// Live reports whether the option still belongs to a section.
func (o *Option) Live() bool {
	return o.section != nil
}

// value is a parsed option value.
type value struct {
	i int
	s string
}

// parse validates literal against spec. current is used for relative and
// toggle forms.
func parse(spec Spec, literal string, current value) (value, error) {
	switch spec.Kind {
	case Integer:
		if len(spec.Values) > 0 {
			for i, v := range spec.Values {
				if strings.EqualFold(v, literal) {
					return value{i: i}, nil
				}
			}
			return value{}, invalidValue(literal, "expected one of "+strings.Join(spec.Values, "|"))
		}
		n, err := parseInteger(literal, current.i)
		if err != nil {
			return value{}, err
		}
		if n < spec.Min || n > spec.Max {
			return value{}, invalidValue(literal, "out of range "+strconv.Itoa(spec.Min)+".."+strconv.Itoa(spec.Max))
		}
		return value{i: n}, nil
	case Boolean:
		switch strings.ToLower(literal) {
		case "on", "true", "yes", "1":
			return value{i: 1}, nil
		case "off", "false", "no", "0":
			return value{i: 0}, nil
		case "toggle":
			if current.i != 0 {
				return value{i: 0}, nil
			}
			return value{i: 1}, nil
		default:
			return value{}, invalidValue(literal, "expected on or off")
		}
	case String:
		return value{s: literal}, nil
	default:
		return value{}, invalidValue(literal, "unknown option kind")
	}
}

// parseInteger accepts a decimal integer, or "++N" / "--N" relative to current.
func parseInteger(literal string, current int) (int, error) {
	s := strings.TrimSpace(literal)
	switch {
	case strings.HasPrefix(s, "++"):
		n, err := strconv.Atoi(s[2:])
		if err != nil {
			return 0, invalidValue(literal, "not an integer")
		}
		return current + n, nil
	case strings.HasPrefix(s, "--"):
		n, err := strconv.Atoi(s[2:])
		if err != nil {
			return 0, invalidValue(literal, "not an integer")
		}
		return current - n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidValue(literal, "not an integer")
	}
	return n, nil
}
