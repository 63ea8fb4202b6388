// Package redact scrubs configured secret values from text before it leaves
// the process through logs or error responses.
package redact

import (
	"log/slog"
	"sort"
	"strings"
)

// Placeholder replaces every secret occurrence.
const Placeholder = "[REDACTED]"

// Redactor replaces known secret values with Placeholder.
// The zero value and a nil *Redactor redact nothing.
type Redactor struct {
	replacer *strings.Replacer
}

// New returns a Redactor for the given secrets. Empty values are ignored.
func New(secrets ...string) *Redactor {
	vals := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			vals = append(vals, s)
		}
	}
	if len(vals) == 0 {
		return &Redactor{}
	}

	// Longest first so a secret that contains another is replaced whole.
	sort.Slice(vals, func(i, j int) bool { return len(vals[i]) > len(vals[j]) })

	pairs := make([]string, 0, len(vals)*2)
	for _, v := range vals {
		pairs = append(pairs, v, Placeholder)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// String returns s with every secret replaced.
func (r *Redactor) String(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that redacts string,
// error and stringer attribute values.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if r == nil || r.replacer == nil {
		return a
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(r.String(v.String()))
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			a.Value = slog.StringValue(r.String(x.Error()))
		case interface{ String() string }:
			a.Value = slog.StringValue(r.String(x.String()))
		case []byte:
			a.Value = slog.StringValue(r.String(string(x)))
		}
	}
	return a
}
