package diagnose

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/TobiSchelling/TurfWatch/internal/llm"
)

// ErrRejected is returned when a model response cannot be parsed as a JSON
// object at all. The report stays undiagnosed and is selected again later.
var ErrRejected = errors.New("model output rejected")

// Kind classifies how much repair a model response needed.
type Kind int

const (
	Valid Kind = iota
	Coerced
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case Coerced:
		return "coerced"
	default:
		return "rejected"
	}
}

// Outcome describes the result of coercing one response. Notes name every
// field that had to be repaired.
type Outcome struct {
	Kind  Kind
	Notes []string
}

// Verdict holds the coerced fields of a diagnosis.
type Verdict struct {
	RootCause          string
	Confidence         string
	Categories         []string
	Solutions          []string
	AffectedPercentage float64
	HealthScore        float64
	Urgency            string
}

const (
	defaultConfidence = "low"
	defaultAffected   = 0.0
	defaultHealth     = 5.0
	defaultUrgency    = "medium"
)

var (
	confidenceTiers = map[string]bool{"high": true, "medium": true, "low": true}
	urgencyTiers    = map[string]bool{"low": true, "medium": true, "high": true}
)

// Coerce turns an untrusted model response into a Verdict. Every field is
// type-checked on its own; only a response that is not a JSON object is
// rejected. The extended fields are read only when extended is set.
func Coerce(raw string, extended bool) (Verdict, Outcome, error) {
	data, err := llm.ParseJSONObject(raw)
	if err != nil {
		return Verdict{}, Outcome{Kind: Rejected, Notes: []string{err.Error()}}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	c := &coercer{data: data}
	v := Verdict{
		RootCause:          c.text("root_cause"),
		Confidence:         c.tier("confidence", confidenceTiers, defaultConfidence),
		Categories:         c.list("categories"),
		Solutions:          c.list("solutions"),
		AffectedPercentage: defaultAffected,
		HealthScore:        defaultHealth,
	}
	if extended {
		v.AffectedPercentage = c.number("weed_percentage", defaultAffected, 0, 100)
		v.HealthScore = c.number("health_score", defaultHealth, 1, 10)
		v.Urgency = c.tier("treatment_urgency", urgencyTiers, defaultUrgency)
	}

	out := Outcome{Kind: Valid, Notes: c.notes}
	if len(c.notes) > 0 {
		out.Kind = Coerced
	}
	return v, out, nil
}

type coercer struct {
	data  map[string]any
	notes []string
}

func (c *coercer) note(format string, args ...any) {
	c.notes = append(c.notes, fmt.Sprintf(format, args...))
}

func (c *coercer) text(key string) string {
	v, ok := c.data[key]
	if !ok || v == nil {
		c.note("%s missing", key)
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	c.note("%s was %T, stringified", key, v)
	return stringify(v)
}

func (c *coercer) tier(key string, allowed map[string]bool, fallback string) string {
	v, ok := c.data[key]
	if !ok || v == nil {
		c.note("%s missing, using %q", key, fallback)
		return fallback
	}
	s, isString := v.(string)
	if !isString {
		s = stringify(v)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !allowed[s] {
		c.note("%s %q not allowed, using %q", key, s, fallback)
		return fallback
	}
	if !isString {
		c.note("%s was %T, stringified", key, v)
	}
	return s
}

func (c *coercer) list(key string) []string {
	v, ok := c.data[key]
	if !ok || v == nil {
		c.note("%s missing", key)
		return []string{}
	}
	items, isList := v.([]any)
	if !isList {
		c.note("%s was a bare %T, wrapped", key, v)
		return []string{stringify(v)}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			c.note("%s item was %T, stringified", key, item)
			s = stringify(item)
		}
		out = append(out, s)
	}
	return out
}

func (c *coercer) number(key string, fallback, lo, hi float64) float64 {
	v, ok := c.data[key]
	if !ok || v == nil {
		c.note("%s missing, using %g", key, fallback)
		return fallback
	}

	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			c.note("%s %q is not a number, using %g", key, t, fallback)
			return fallback
		}
		c.note("%s was a string, parsed", key)
		n = f
	default:
		c.note("%s was %T, using %g", key, v, fallback)
		return fallback
	}

	if n < lo {
		c.note("%s %g below %g, clamped", key, n, lo)
		return lo
	}
	if n > hi {
		c.note("%s %g above %g, clamped", key, n, hi)
		return hi
	}
	return n
}

// stringify renders a decoded JSON value as text: scalars in their plain
// form, objects and arrays as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
