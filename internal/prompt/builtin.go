package prompt

import "sort"

// FixField is the system prompt for single-field repairs.
const FixField = "fix-field.md"

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	FixField: fixFieldTemplate,
}

const fixFieldTemplate = `You repair single fields of marketing email handoff payloads.
You receive a dotted field path, the validation message, and the current JSON value.
Reply with a JSON object: {"fix": true, "value": <replacement>} when you can produce a
valid replacement of the same JSON type, or {"fix": false} when you cannot.
Never change other fields and never explain.
{{#if brand}}
The email is sent on behalf of {{brand}}. Keep replacements in its voice.
{{/if}}
{{#if guidance}}
House rules:
{{guidance}}
{{/if}}`

// Names returns the built-in template names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for n := range builtinTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
