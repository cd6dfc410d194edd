// Package template renders the {{token}} templates of notification emails.
package template

import (
	"html"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Render substitutes every {{key}} of tokens in tmpl in a single pass.
// Placeholders without a token are left verbatim, and substituted values
// are never re-scanned.
func Render(tmpl string, tokens map[string]string) string {
	if len(tokens) == 0 || !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", tokens[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Recipient tokens are left in group bodies and filled per recipient.
const (
	TokenName      = "name"
	TokenContactID = "contact_id"
	TokenEmail     = "email"
)

// IsRecipientToken reports whether key is filled by the per-recipient pass.
func IsRecipientToken(key string) bool {
	switch key {
	case TokenName, TokenContactID, TokenEmail:
		return true
	}
	return false
}

// HTMLValue escapes v for an HTML body. Braces become character references
// so a substituted value never forms a placeholder for a later pass.
func HTMLValue(v string) string {
	return strings.ReplaceAll(html.EscapeString(v), "{", "&#123;")
}

// TitleCase upper-cases the first letter of every word.
func TitleCase(s string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}

// Humanize turns a link name into a label: "company_link" becomes "Company Link".
func Humanize(linkName string) string {
	return TitleCase(strings.ReplaceAll(linkName, "_", " "))
}

// LocalDateTime formats t in loc for email bodies.
func LocalDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Monday, 02 Jan 2006 at 03:04 PM MST")
}
