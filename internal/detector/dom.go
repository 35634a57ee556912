// File: internal/detector/dom.go
// DOM helpers shared by the detection strategies.
package detector

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, key)
}

// inputKind normalizes an element to its interaction kind.
func inputKind(n *html.Node) string {
	switch strings.ToLower(n.Data) {
	case "select":
		return "select"
	case "textarea":
		return "textarea"
	case "input":
		t := strings.ToLower(attr(n, "type"))
		if t == "" {
			return "text"
		}
		return t
	}
	return ""
}

// isSystemInput excludes csrf/token/_method/password-like inputs.
func isSystemInput(n *html.Node) bool {
	if strings.ToLower(attr(n, "type")) == "password" {
		return true
	}
	return systemInputPattern.MatchString(attr(n, "name")) ||
		systemInputPattern.MatchString(attr(n, "id"))
}

// isVisible is a static-markup approximation: hidden inputs, the hidden
// attribute, and inline display:none / visibility:hidden are invisible.
func isVisible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if htmlquery.ExistsAttr(cur, "hidden") {
			return false
		}
		style := strings.ToLower(attr(cur, "style"))
		if strings.Contains(style, "display:none") || strings.Contains(style, "display: none") ||
			strings.Contains(style, "visibility:hidden") || strings.Contains(style, "visibility: hidden") {
			return false
		}
	}
	return strings.ToLower(attr(n, "type")) != "hidden"
}

// answerableInputs collects interactive, visible, non-system inputs under
// root.
func answerableInputs(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(root, ".//input | .//textarea | .//select")
	if err != nil {
		return nil
	}
	var out []*html.Node
	for _, n := range nodes {
		kind := inputKind(n)
		if kind == "" || kind == "hidden" || kind == "submit" || kind == "button" ||
			kind == "reset" || kind == "image" || kind == "file" {
			continue
		}
		if isSystemInput(n) || !isVisible(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// groupCheckableByName groups visible radio/checkbox inputs sharing a name,
// preserving document order of first appearance.
func groupCheckableByName(doc *html.Node) (map[string][]*html.Node, []string) {
	groups := make(map[string][]*html.Node)
	var order []string
	for _, input := range answerableInputs(doc) {
		kind := inputKind(input)
		if kind != "radio" && kind != "checkbox" {
			continue
		}
		name := attr(input, "name")
		if name == "" {
			continue
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], input)
	}
	return groups, order
}

// commonAncestor returns the nearest node containing every member.
func commonAncestor(nodes []*html.Node) *html.Node {
	if len(nodes) == 0 {
		return nil
	}
	ancestor := nodes[0].Parent
	for ancestor != nil {
		all := true
		for _, n := range nodes[1:] {
			if !contains(ancestor, n) {
				all = false
				break
			}
		}
		if all {
			return ancestor
		}
		ancestor = ancestor.Parent
	}
	return nil
}

func contains(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

// questionText derives the question wording: nearest label/legend/title
// element, then cleaned container text, then input placeholder/name.
func questionText(container *html.Node, inputs []*html.Node) string {
	if container != nil {
		labels, _ := htmlquery.QueryAll(container,
			".//legend | .//label | .//*[contains(@class, 'question-title') or contains(@class, 'question-text')]")
		for _, label := range labels {
			// Skip labels wrapping only an option (radio/checkbox value text).
			if wrapsCheckable(label) {
				continue
			}
			if text := cleanText(htmlquery.InnerText(label)); text != "" {
				return text
			}
		}
		if text := cleanText(htmlquery.InnerText(container)); text != "" {
			return text
		}
	}

	for _, input := range inputs {
		if ph := strings.TrimSpace(attr(input, "placeholder")); ph != "" {
			return truncate(ph)
		}
	}
	for _, input := range inputs {
		if name := strings.TrimSpace(attr(input, "name")); name != "" {
			return truncate(name)
		}
	}
	return ""
}

func wrapsCheckable(label *html.Node) bool {
	if strings.ToLower(label.Data) != "label" {
		return false
	}
	inputs, _ := htmlquery.QueryAll(label, ".//input")
	for _, in := range inputs {
		kind := inputKind(in)
		if kind == "radio" || kind == "checkbox" {
			return true
		}
	}
	return false
}

// cleanText strips boilerplate phrases, collapses whitespace, and bounds the
// result length.
func cleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	lower := strings.ToLower(s)
	for _, phrase := range boilerplatePhrases {
		if idx := strings.Index(lower, phrase); idx >= 0 {
			s = strings.TrimSpace(s[:idx] + s[idx+len(phrase):])
			lower = strings.ToLower(s)
		}
	}
	s = strings.Trim(s, " *:")
	return truncate(s)
}

func truncate(s string) string {
	if len(s) > maxQuestionTextLen {
		return s[:maxQuestionTextLen]
	}
	return s
}

// describeInputs maps DOM nodes to driver-addressable descriptors.
func describeInputs(nodes []*html.Node) []schemas.InputDescriptor {
	out := make([]schemas.InputDescriptor, 0, len(nodes))
	for _, n := range nodes {
		desc := schemas.InputDescriptor{
			Selector: selectorFor(n),
			Kind:     inputKind(n),
			Name:     attr(n, "name"),
			ID:       attr(n, "id"),
			Value:    attr(n, "value"),
		}
		if desc.Kind == "select" {
			options, _ := htmlquery.QueryAll(n, ".//option")
			for _, opt := range options {
				desc.Options = append(desc.Options, cleanText(htmlquery.InnerText(opt)))
			}
		}
		out = append(out, desc)
	}
	return out
}

// selectorFor builds a stable selector for an input: id wins, then
// name(+value for checkables), falling back to an absolute XPath. Selectors
// beginning with '/' are interpreted as XPath by the driver.
func selectorFor(n *html.Node) string {
	tag := strings.ToLower(n.Data)
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	name := attr(n, "name")
	kind := inputKind(n)
	if name != "" {
		if kind == "radio" || kind == "checkbox" {
			if value := attr(n, "value"); value != "" {
				return fmt.Sprintf("%s[name=%q][value=%q]", tag, name, value)
			}
		}
		return fmt.Sprintf("%s[name=%q]", tag, name)
	}
	return xpathFor(n)
}

// xpathFor computes an absolute positional XPath for nodes with no usable
// attributes.
func xpathFor(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		idx := 1
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode && sib.Data == cur.Data {
				idx++
			}
		}
		segments = append([]string{fmt.Sprintf("%s[%d]", cur.Data, idx)}, segments...)
	}
	return "/" + strings.Join(segments, "/")
}
