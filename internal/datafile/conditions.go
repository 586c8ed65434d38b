package datafile

import (
	"encoding/json"
	"fmt"

	"github.com/rafaeljc/bifrost/internal/condition"
)

// ParseConditions decodes an audience condition string: a JSON array whose
// first element is "and", "or" or "not" and whose remaining elements are
// nested arrays or leaf objects {"name","type","value"}.
func ParseConditions(raw string) (condition.Condition, error) {
	var tree []any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return condition.Condition{}, fmt.Errorf("conditions are not a JSON array: %w", err)
	}
	return parseNode(tree)
}

func parseNode(node []any) (condition.Condition, error) {
	if len(node) == 0 {
		return condition.Condition{}, fmt.Errorf("empty condition list")
	}
	operator, ok := node[0].(string)
	if !ok {
		return condition.Condition{}, fmt.Errorf("condition operator must be a string, got %T", node[0])
	}

	children := make([]condition.Condition, 0, len(node)-1)
	for _, item := range node[1:] {
		var (
			child condition.Condition
			err   error
		)
		switch v := item.(type) {
		case []any:
			child, err = parseNode(v)
		case map[string]any:
			child, err = parseLeaf(v)
		default:
			err = fmt.Errorf("unexpected condition element %T", item)
		}
		if err != nil {
			return condition.Condition{}, err
		}
		children = append(children, child)
	}

	switch operator {
	case "and":
		return condition.And(children...), nil
	case "or":
		return condition.Or(children...), nil
	case "not":
		if len(children) == 0 {
			// Evaluates to Unknown.
			return condition.Condition{Kind: condition.KindNot}, nil
		}
		return condition.Not(children[0]), nil
	default:
		return condition.Condition{}, fmt.Errorf("unknown condition operator %q", operator)
	}
}

func parseLeaf(m map[string]any) (condition.Condition, error) {
	name, ok := m["name"].(string)
	if !ok || name == "" {
		return condition.Condition{}, fmt.Errorf("condition leaf requires a name")
	}
	matchType, _ := m["type"].(string)

	var value string
	switch v := m["value"].(type) {
	case nil:
	case string:
		value = v
	default:
		return condition.Condition{}, fmt.Errorf("condition %q value must be a string, got %T", name, v)
	}

	return condition.Leaf(name, matchType, value), nil
}
