package flowexec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/flowforge/engine/pkg/models"
)

// escapeXMLEntity applies the five standard XML entity escapes, in
// the order that avoids double-escaping ampersands introduced by the
// other replacements.
func escapeXMLEntity(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}

// serializeExternalToolCallXML renders one external tool call as
// <name><arg>value</arg>...</name>, per spec §4.6's external tool
// wrapping rule. Argument order is sorted for determinism.
func serializeExternalToolCallXML(call models.ToolCall) string {
	var args map[string]any
	_ = json.Unmarshal([]byte(call.Arguments), &args)

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "<%s>\n", call.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, "<%s>%s</%s>\n", k, escapeXMLEntity(fmt.Sprint(args[k])), k)
	}
	fmt.Fprintf(&b, "</%s>", call.Name)
	return b.String()
}
