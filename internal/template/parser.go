// Package template implements the Template Parser (C4): extraction of
// `@name` module references and `${var}` variable references from a
// persona/module template string, plus the substitution and escape rules
// §4.4 specifies.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// moduleNameBody matches the name grammar after the leading '@'
// ([a-z][a-z0-9_]{0,49}), anchored at the start of the match.
var moduleNameBody = regexp.MustCompile(`^[a-z][a-z0-9_]{0,49}`)

// varRefPattern matches ${name} with name in [A-Za-z_][A-Za-z0-9_]*.
var varRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// escapedModulePattern matches a literal backslash directly preceding a
// valid module reference, for the final un-escape pass.
var escapedModulePattern = regexp.MustCompile(`\\@[a-z][a-z0-9_]{0,49}`)

// ExtractModuleRefs returns the `@name` references in tpl, in first-seen
// order, deduplicated, skipping any reference escaped by a preceding
// backslash.
func ExtractModuleRefs(tpl string) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '@' {
			continue
		}
		if i > 0 && tpl[i-1] == '\\' {
			continue
		}
		name, ok := matchModuleName(tpl[i+1:])
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ExtractVarRefs returns the ${name} references in tpl, in first-seen
// order, deduplicated.
func ExtractVarRefs(tpl string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range varRefPattern.FindAllStringSubmatch(tpl, -1) {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// matchModuleName reports the module name at the start of rest, if any.
func matchModuleName(rest string) (string, bool) {
	m := moduleNameBody.FindString(rest)
	if m == "" {
		return "", false
	}
	return m, true
}

// ReplaceModule replaces every unescaped "@name" token with value. A
// token matches only when its whole module name equals name, so "@abc"
// is left alone when name is "ab". Escaped occurrences (\@name) are left
// untouched for a later FinalizeEscapes pass.
func ReplaceModule(tpl, name, value string) string {
	if name == "" {
		return tpl
	}
	var out strings.Builder
	out.Grow(len(tpl))
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		if c != '@' {
			out.WriteByte(c)
			continue
		}
		escaped := i > 0 && tpl[i-1] == '\\'
		matched, ok := matchModuleName(tpl[i+1:])
		if ok && !escaped && matched == name {
			out.WriteString(value)
			i += len(matched)
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

// FinalizeEscapes rewrites any surviving \@name sequence to @name. Called
// once at the end of a stage's resolution, after every eligible module
// reference has had a chance to substitute.
func FinalizeEscapes(tpl string) string {
	return escapedModulePattern.ReplaceAllStringFunc(tpl, func(m string) string {
		return m[1:]
	})
}

// SubstituteVars replaces every ${name} in tpl with the string form of
// vars[name], or the empty string when name is unbound.
func SubstituteVars(tpl string, vars map[string]any) string {
	return varRefPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		sub := varRefPattern.FindStringSubmatch(m)
		name := sub[1]
		val, ok := vars[name]
		if !ok || val == nil {
			return ""
		}
		return stringify(val)
	})
}

// stringify renders a script output value as it would appear substituted
// into template text.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
