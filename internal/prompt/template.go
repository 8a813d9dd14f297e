package prompt

import "strings"

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// placeholder is one well-formed {{name}} occurrence in a template.
type placeholder struct {
	start, end int // byte range of the whole token, end exclusive
	name       string
}

// scan walks the template left to right and returns every well-formed
// placeholder. An opening delimiter with no closing one is ignored, and so is
// anything left of a later opening delimiter inside the same pair.
func scan(template string) []placeholder {
	var out []placeholder
	pos := 0
	for pos < len(template) {
		open := strings.Index(template[pos:], openDelim)
		if open < 0 {
			break
		}
		open += pos
		closeIdx := strings.Index(template[open+len(openDelim):], closeDelim)
		if closeIdx < 0 {
			break
		}
		closeIdx += open + len(openDelim)

		// "{{a {{b}}" reads as the placeholder b.
		if inner := strings.LastIndex(template[open+len(openDelim):closeIdx], openDelim); inner >= 0 {
			open += len(openDelim) + inner
		}

		name := strings.TrimSpace(template[open+len(openDelim) : closeIdx])
		end := closeIdx + len(closeDelim)
		if name != "" && !strings.ContainsAny(name, "{}") {
			out = append(out, placeholder{start: open, end: end, name: name})
		}
		pos = end
	}
	return out
}

// ExtractVariables returns the distinct variable names in the template in
// order of first appearance.
func ExtractVariables(template string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, p := range scan(template) {
		if !seen[p.name] {
			seen[p.name] = true
			vars = append(vars, p.name)
		}
	}
	return vars
}

// Interpolate replaces every literal {{name}} token whose name has a value in
// vars. Padded tokens such as {{ name }}, and unknown names, are left as
// written. Substituted values are not scanned again.
func Interpolate(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	last := 0
	for _, p := range scan(template) {
		val, ok := vars[p.name]
		if !ok || template[p.start:p.end] != openDelim+p.name+closeDelim {
			continue
		}
		b.WriteString(template[last:p.start])
		b.WriteString(val)
		last = p.end
	}
	b.WriteString(template[last:])
	return b.String()
}

// SyncVariables reconciles a runtime variable map with the template: names no
// longer present are dropped, new names get an empty value and existing
// values are kept.
func SyncVariables(template string, current map[string]string) map[string]string {
	names := ExtractVariables(template)
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = current[n]
	}
	return out
}
