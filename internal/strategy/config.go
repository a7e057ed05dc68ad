// Package strategy holds the user-editable scan configuration that travels
// with every scan request.
package strategy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Toggle names a boolean filter recognised by the scan backend.
type Toggle string

const (
	ToggleRSI   Toggle = "use_rsi"
	ToggleADX   Toggle = "use_adx"
	TogglePulse Toggle = "only_pulse"
)

// Toggles lists the known toggle names.
var Toggles = []Toggle{ToggleRSI, ToggleADX, TogglePulse}

// Indicator names a rule indicator.
type Indicator string

const (
	IndicatorRVOL Indicator = "RVOL"
	IndicatorRSI  Indicator = "RSI"
	IndicatorADX  Indicator = "ADX"
	IndicatorBBW  Indicator = "BBW"
)

// Operator compares an indicator reading against a threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// RuleField names a mutable rule attribute.
type RuleField string

const (
	FieldOperator   RuleField = "operator"
	FieldValue      RuleField = "value"
	FieldPeriod     RuleField = "period"
	FieldLength     RuleField = "length"
	FieldMultiplier RuleField = "multiplier"
)

var (
	ErrUnknownToggle    = errors.New("unknown toggle")
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrUnknownField     = errors.New("unknown rule field")
	ErrInvalidValue     = errors.New("invalid rule value")
)

// Rule is one declarative predicate evaluated by the backend.
type Rule struct {
	ID         string    `json:"id"`
	Indicator  Indicator `json:"indicator"`
	Operator   Operator  `json:"operator"`
	Value      float64   `json:"value"`
	Period     int       `json:"period,omitempty"`
	Length     int       `json:"length,omitempty"`
	Multiplier float64   `json:"multiplier,omitempty"`
}

// Config is the scan configuration. It marshals directly into the scan
// request body: toggles as top-level booleans, rules only when present.
type Config struct {
	UseRSI    bool   `json:"use_rsi"`
	UseADX    bool   `json:"use_adx"`
	OnlyPulse bool   `json:"only_pulse"`
	Rules     []Rule `json:"rules,omitempty"`

	nextID uint64
}

// ParseToggle validates a toggle name.
func ParseToggle(name string) (Toggle, error) {
	t := Toggle(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case ToggleRSI, ToggleADX, TogglePulse:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownToggle, name)
}

// ParseIndicator validates an indicator name.
func ParseIndicator(name string) (Indicator, error) {
	ind := Indicator(strings.ToUpper(strings.TrimSpace(name)))
	switch ind {
	case IndicatorRVOL, IndicatorRSI, IndicatorADX, IndicatorBBW:
		return ind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIndicator, name)
}

// ParseOperator validates a comparison operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return op, nil
	}
	return "", fmt.Errorf("%w: operator %q", ErrInvalidValue, s)
}

// Toggle reports the value of a toggle.
func (c *Config) Toggle(t Toggle) bool {
	switch t {
	case ToggleRSI:
		return c.UseRSI
	case ToggleADX:
		return c.UseADX
	case TogglePulse:
		return c.OnlyPulse
	}
	return false
}

// SetToggle sets a boolean toggle by name.
func (c *Config) SetToggle(name string, value bool) error {
	t, err := ParseToggle(name)
	if err != nil {
		return err
	}
	switch t {
	case ToggleRSI:
		c.UseRSI = value
	case ToggleADX:
		c.UseADX = value
	case TogglePulse:
		c.OnlyPulse = value
	}
	return nil
}

// DefaultRule returns the default rule for an indicator, without an id.
func DefaultRule(ind Indicator) (Rule, error) {
	switch ind {
	case IndicatorRVOL:
		return Rule{Indicator: ind, Operator: OpGreater, Value: 1.5, Period: 30}, nil
	case IndicatorRSI:
		return Rule{Indicator: ind, Operator: OpLess, Value: 30, Period: 14}, nil
	case IndicatorADX:
		return Rule{Indicator: ind, Operator: OpGreater, Value: 25, Period: 14}, nil
	case IndicatorBBW:
		return Rule{Indicator: ind, Operator: OpLess, Value: 0.10, Length: 20, Multiplier: 2}, nil
	}
	return Rule{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, ind)
}

// AddRule appends a rule with indicator defaults and returns it.
func (c *Config) AddRule(ind Indicator) (Rule, error) {
	rule, err := DefaultRule(ind)
	if err != nil {
		return Rule{}, err
	}
	c.nextID++
	rule.ID = "r" + strconv.FormatUint(c.nextID, 10)
	c.Rules = append(c.Rules, rule)
	return rule, nil
}

// RemoveRule deletes a rule, keeping the order of the others.
func (c *Config) RemoveRule(id string) error {
	i := c.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	c.Rules = append(c.Rules[:i:i], c.Rules[i+1:]...)
	return nil
}

// UpdateRule sets one field of a rule from its textual value.
func (c *Config) UpdateRule(id string, field RuleField, value string) error {
	i := c.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule := c.Rules[i]
	value = strings.TrimSpace(value)

	switch field {
	case FieldOperator:
		op, err := ParseOperator(value)
		if err != nil {
			return err
		}
		rule.Operator = op
	case FieldValue, FieldMultiplier:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s %q", ErrInvalidValue, field, value)
		}
		if field == FieldValue {
			rule.Value = f
		} else {
			if f <= 0 {
				return fmt.Errorf("%w: multiplier must be positive", ErrInvalidValue)
			}
			rule.Multiplier = f
		}
	case FieldPeriod, FieldLength:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s %q", ErrInvalidValue, field, value)
		}
		if field == FieldPeriod {
			rule.Period = n
		} else {
			rule.Length = n
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	c.Rules[i] = rule
	return nil
}

// Rule returns the rule with the given id.
func (c *Config) Rule(id string) (Rule, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Rules[i], true
	}
	return Rule{}, false
}

// Clone returns a copy that shares no rule storage with c.
func (c *Config) Clone() Config {
	out := *c
	if c.Rules != nil {
		out.Rules = make([]Rule, len(c.Rules))
		copy(out.Rules, c.Rules)
	}
	return out
}

func (c *Config) indexOf(id string) int {
	for i, r := range c.Rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}
