// Package condition implements the audience condition tree and its
// three-valued evaluation against a user's attributes.
package condition

import (
	"fmt"
	"strings"
)

// Result is the outcome of evaluating a condition.
// The zero value is Unknown, which is what a missing attribute produces.
type Result int

const (
	Unknown Result = iota
	False
	True
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Of converts a plain boolean into a Result.
func Of(b bool) Result {
	if b {
		return True
	}
	return False
}

// Kind identifies the node type of a Condition.
type Kind int

const (
	KindLeaf Kind = iota
	KindAnd
	KindOr
	KindNot
)

// MatchCustomAttribute is the only leaf match type understood by the evaluator.
// It compares the attribute value with the expected value for exact equality.
const MatchCustomAttribute = "custom_attribute"

// Condition is a node of an audience condition tree.
// Leaves carry an attribute name, a match type and an expected value;
// combinators carry their operands in Children.
type Condition struct {
	Kind     Kind
	Name     string
	Type     string
	Value    string
	Children []Condition
}

// Leaf builds a leaf condition.
func Leaf(name, matchType, value string) Condition {
	return Condition{Kind: KindLeaf, Name: name, Type: matchType, Value: value}
}

// And builds a conjunction.
func And(children ...Condition) Condition {
	return Condition{Kind: KindAnd, Children: children}
}

// Or builds a disjunction.
func Or(children ...Condition) Condition {
	return Condition{Kind: KindOr, Children: children}
}

// Not builds a negation. Only the first operand is considered.
func Not(child Condition) Condition {
	return Condition{Kind: KindNot, Children: []Condition{child}}
}

// Evaluate walks the tree using three-valued logic.
//
// A leaf whose attribute is absent is Unknown. Or is True if any child is True,
// otherwise Unknown if any child is Unknown. And is False if any child is False,
// otherwise Unknown if any child is Unknown. Not swaps True and False.
func (c Condition) Evaluate(attributes map[string]string) Result {
	switch c.Kind {
	case KindLeaf:
		return c.evaluateLeaf(attributes)

	case KindAnd:
		sawUnknown := false
		for _, child := range c.Children {
			switch child.Evaluate(attributes) {
			case False:
				return False
			case Unknown:
				sawUnknown = true
			}
		}
		if sawUnknown {
			return Unknown
		}
		return True

	case KindOr:
		sawUnknown := false
		for _, child := range c.Children {
			switch child.Evaluate(attributes) {
			case True:
				return True
			case Unknown:
				sawUnknown = true
			}
		}
		if sawUnknown {
			return Unknown
		}
		return False

	case KindNot:
		if len(c.Children) == 0 {
			return Unknown
		}
		switch c.Children[0].Evaluate(attributes) {
		case True:
			return False
		case False:
			return True
		default:
			return Unknown
		}

	default:
		return Unknown
	}
}

func (c Condition) evaluateLeaf(attributes map[string]string) Result {
	actual, ok := attributes[c.Name]
	if !ok {
		return Unknown
	}

	switch c.Type {
	case "", MatchCustomAttribute:
		return Of(actual == c.Value)
	default:
		// Unrecognized match types cannot be decided either way.
		return Unknown
	}
}

// String renders the tree in a compact prefix notation, useful in logs.
func (c Condition) String() string {
	switch c.Kind {
	case KindLeaf:
		return fmt.Sprintf("%s=%q", c.Name, c.Value)
	case KindAnd, KindOr, KindNot:
		op := map[Kind]string{KindAnd: "and", KindOr: "or", KindNot: "not"}[c.Kind]
		parts := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			parts = append(parts, child.String())
		}
		return op + "(" + strings.Join(parts, ", ") + ")"
	default:
		return "invalid"
	}
}
