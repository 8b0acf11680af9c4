package testutil

import (
	"fmt"
	"sort"
	"strings"
)

// Combo is one combination drawn from a Matrix.
type Combo struct {
	vals map[string]interface{}
}

func (c *Combo) GetString(name string) string {
	return c.vals[name].(string)
}

func (c *Combo) GetBool(name string) bool {
	return c.vals[name].(bool)
}

func (c *Combo) GetInt(name string) int {
	return c.vals[name].(int)
}

func (c *Combo) GetUint64(name string) uint64 {
	return c.vals[name].(uint64)
}

func (c *Combo) GetFloat64(name string) float64 {
	return c.vals[name].(float64)
}

// Str renders the combination as "a=1,b=x" with names sorted, suitable as a
// subtest name.
func (c *Combo) Str() string {
	names := make([]string, 0, len(c.vals))
	for name := range c.vals {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(fmt.Sprintf("%v", c.vals[name]))
	}
	return sb.String()
}

// Matrix iterates the cartesian product of named value lists, optionally
// filtered by a skip predicate. Skipped combinations are stepped over
// internally, so Next never returns nil while HasNext reports true.
type Matrix struct {
	cursors  []int
	valLists [][]interface{}
	idxOf    map[string]int
	skip     func(*Combo) bool
	pending  *Combo
	done     bool
}

func (m *Matrix) Dimension(name string, vals []interface{}) *Matrix {
	if m.idxOf == nil {
		m.idxOf = make(map[string]int)
	}

	m.cursors = append(m.cursors, 0)
	m.valLists = append(m.valLists, vals)
	m.idxOf[name] = len(m.cursors) - 1

	m.cursors[0] = -1

	return m
}

func (m *Matrix) Skip(f func(combo *Combo) bool) *Matrix {
	m.skip = f
	return m
}

func (m *Matrix) HasNext() bool {
	if m.pending == nil {
		m.pending = m.advance()
	}
	return m.pending != nil
}

func (m *Matrix) Next() *Combo {
	if m.pending == nil {
		m.pending = m.advance()
	}
	combo := m.pending
	m.pending = nil
	return combo
}

func (m *Matrix) advance() *Combo {
	if m.done || len(m.valLists) == 0 {
		return nil
	}

	for {
		carry := true
		for idx := range m.cursors {
			if m.cursors[idx]+1 < len(m.valLists[idx]) {
				m.cursors[idx]++
				carry = false
				break
			}
			m.cursors[idx] = 0
		}
		if carry {
			m.done = true
			return nil
		}

		combo := &Combo{vals: make(map[string]interface{}, len(m.idxOf))}
		for name, idx := range m.idxOf {
			combo.vals[name] = m.valLists[idx][m.cursors[idx]]
		}

		if m.skip != nil && m.skip(combo) {
			continue
		}
		return combo
	}
}
