package browser

import (
	"fmt"
	"strings"
)

// By is an element location strategy.
type By string

const (
	ByCSS      By = "css selector"
	ByXPath    By = "xpath"
	ByID       By = "id"
	ByClass    By = "class name"
	ByLinkText By = "link text"
	ByTag      By = "tag name"
)

// Locator finds elements on the current page.
type Locator struct {
	By    By
	Value string
}

func CSS(sel string) Locator       { return Locator{By: ByCSS, Value: sel} }
func XPath(expr string) Locator    { return Locator{By: ByXPath, Value: expr} }
func ID(id string) Locator         { return Locator{By: ByID, Value: id} }
func Class(name string) Locator    { return Locator{By: ByClass, Value: name} }
func LinkText(text string) Locator { return Locator{By: ByLinkText, Value: text} }
func Tag(name string) Locator      { return Locator{By: ByTag, Value: name} }

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Value)
}

// IsXPath reports whether the locator must be resolved as XPath by engines
// that only speak CSS and XPath.
func (l Locator) IsXPath() bool {
	return l.By == ByXPath || l.By == ByLinkText
}

// Selector returns the CSS selector or XPath expression equivalent to l.
func (l Locator) Selector() string {
	switch l.By {
	case ByID:
		return "#" + cssIdent(l.Value)
	case ByClass:
		return "." + cssIdent(l.Value)
	case ByLinkText:
		return "//a[normalize-space(.)=" + xpathLiteral(l.Value) + "]"
	default:
		return l.Value
	}
}

func cssIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7f:
			b.WriteRune(r)
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
