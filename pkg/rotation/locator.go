package rotation

import (
	"fmt"
	"strings"
)

// LocatorKind selects how a Locator value is interpreted.
type LocatorKind string

const (
	ByCSS   LocatorKind = "css"
	ByXPath LocatorKind = "xpath"
	ByID    LocatorKind = "id"
	ByName  LocatorKind = "name"
)

// Valid reports whether k is a known locator kind.
func (k LocatorKind) Valid() bool {
	switch k {
	case ByCSS, ByXPath, ByID, ByName:
		return true
	}
	return false
}

// Locator identifies an element on a page.
type Locator struct {
	By    LocatorKind
	Value string
}

// CSS is shorthand for a CSS selector locator.
func CSS(selector string) Locator { return Locator{By: ByCSS, Value: selector} }

// XPath is shorthand for an XPath locator.
func XPath(expr string) Locator { return Locator{By: ByXPath, Value: expr} }

// ParseLocator parses the textual "kind:value" form. A value without a known
// kind prefix is a CSS selector, unless it starts like an XPath expression.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}

	if prefix, value, ok := strings.Cut(s, ":"); ok {
		kind := LocatorKind(strings.ToLower(strings.TrimSpace(prefix)))
		if kind.Valid() {
			value = strings.TrimSpace(value)
			if value == "" {
				return Locator{}, fmt.Errorf("locator %q has no value", s)
			}
			return Locator{By: kind, Value: value}, nil
		}
	}

	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(/") {
		return XPath(s), nil
	}
	return CSS(s), nil
}

// MustParseLocator is like ParseLocator but panics on error. It is meant for
// built-in tables.
func MustParseLocator(s string) Locator {
	l, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return l
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Value == ""
}

func (l Locator) String() string {
	if l.IsZero() {
		return ""
	}
	by := l.By
	if by == "" {
		by = ByCSS
	}
	return string(by) + ":" + l.Value
}

// MarshalText implements encoding.TextMarshaler.
func (l Locator) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Locator) UnmarshalText(text []byte) error {
	parsed, err := ParseLocator(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
