package tardiness

import (
	"fmt"
	"sort"
)

// RuleTable is a sorted, validated set of active rules. Build it once per
// rule load with NewRuleTable; it is immutable afterwards.
type RuleTable struct {
	byType map[Type][]Rule
	all    []Rule // every active rule ordered by StartMinute
}

// NewRuleTable validates rules and builds the interval table. Inactive rules
// are ignored.
func NewRuleTable(rules []Rule) (*RuleTable, error) {
	t := &RuleTable{byType: make(map[Type][]Rule)}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		if err := validateRule(r); err != nil {
			return nil, err
		}
		t.byType[r.Type] = append(t.byType[r.Type], r)
		t.all = append(t.all, r)
	}

	for typ, rs := range t.byType {
		sortByStart(rs)
		for i := 1; i < len(rs); i++ {
			prev, cur := rs[i-1], rs[i]
			switch {
			case prev.EndMinute == nil:
				return nil, &ConfigError{RuleID: prev.ID, Type: typ, Reason: "unbounded range must be the last of its type"}
			case *prev.EndMinute > cur.StartMinute:
				return nil, &ConfigError{RuleID: cur.ID, Type: typ, Reason: fmt.Sprintf("overlaps rule %s", prev.ID)}
			case *prev.EndMinute < cur.StartMinute:
				return nil, &ConfigError{RuleID: cur.ID, Type: typ, Reason: fmt.Sprintf("gap [%d,%d) after rule %s", *prev.EndMinute, cur.StartMinute, prev.ID)}
			}
		}
	}

	// Different types may leave gaps between each other but must never claim
	// the same minute, or classification would be ambiguous.
	sortByStart(t.all)
	for i := 1; i < len(t.all); i++ {
		prev, cur := t.all[i-1], t.all[i]
		if prev.EndMinute == nil || *prev.EndMinute > cur.StartMinute {
			return nil, &ConfigError{RuleID: cur.ID, Type: cur.Type, Reason: fmt.Sprintf("overlaps rule %s of type %s", prev.ID, prev.Type)}
		}
	}

	return t, nil
}

func validateRule(r Rule) error {
	switch {
	case r.ID == "":
		return &ConfigError{Type: r.Type, Reason: "rule id is required"}
	case !r.Type.Valid():
		return &ConfigError{RuleID: r.ID, Type: r.Type, Reason: "unknown type"}
	case r.StartMinute < 0:
		return &ConfigError{RuleID: r.ID, Type: r.Type, Reason: "start minute is negative"}
	case r.EndMinute != nil && *r.EndMinute <= r.StartMinute:
		return &ConfigError{RuleID: r.ID, Type: r.Type, Reason: "end minute must be greater than start minute"}
	case r.AccumulationCount < 1:
		return &ConfigError{RuleID: r.ID, Type: r.Type, Reason: "accumulation count must be at least 1"}
	case r.EquivalentFormalTardies < 1:
		return &ConfigError{RuleID: r.ID, Type: r.Type, Reason: "equivalent formal tardies must be at least 1"}
	}
	return nil
}

func sortByStart(rs []Rule) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].StartMinute != rs[j].StartMinute {
			return rs[i].StartMinute < rs[j].StartMinute
		}
		return rs[i].ID < rs[j].ID
	})
}

// Lookup returns the unique rule whose range contains minutes.
func (t *RuleTable) Lookup(minutes int) (Rule, error) {
	// first rule starting after minutes; the candidate is the one before it
	i := sort.Search(len(t.all), func(i int) bool { return t.all[i].StartMinute > minutes })
	if i > 0 && t.all[i-1].Contains(minutes) {
		return t.all[i-1], nil
	}
	m := minutes
	return Rule{}, &ConfigError{Minutes: &m, Reason: "no rule covers lateness"}
}

// Rules returns the active rules of typ in range order.
func (t *RuleTable) Rules(typ Type) []Rule {
	out := make([]Rule, len(t.byType[typ]))
	copy(out, t.byType[typ])
	return out
}

// Len returns the number of active rules.
func (t *RuleTable) Len() int { return len(t.all) }
