// Package i18n resolves localized message texts and fills their
// [placeholder] fields.
package i18n

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// DefaultKey is the entry used when no configured locale matches.
const DefaultKey = "default"

// Localize picks the text for locale from texts, keyed by BCP 47 tags.
// Unparseable keys are ignored for matching. When nothing matches, the
// DefaultKey entry is used, then the first entry in tag order.
func Localize(locale string, texts map[string]string) string {
	if len(texts) == 0 {
		return ""
	}
	if text, ok := texts[locale]; ok {
		return text
	}

	keys := make([]string, 0, len(texts))
	tags := make([]language.Tag, 0, len(texts))
	for key := range texts {
		if key == DefaultKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	usable := keys[:0]
	for _, key := range keys {
		tag, err := language.Parse(key)
		if err != nil {
			continue
		}
		usable = append(usable, key)
		tags = append(tags, tag)
	}

	if want, err := language.Parse(locale); err == nil && len(tags) > 0 {
		_, idx, confidence := language.NewMatcher(tags).Match(want)
		if confidence != language.No {
			return texts[usable[idx]]
		}
	}

	if text, ok := texts[DefaultKey]; ok {
		return text
	}
	if len(usable) > 0 {
		return texts[usable[0]]
	}
	all := make([]string, 0, len(texts))
	for key := range texts {
		all = append(all, key)
	}
	sort.Strings(all)
	return texts[all[0]]
}

// Format replaces [key] placeholders in template with values from data.
// Unknown placeholders are left untouched; "[[" is a literal "[".
func Format(template string, data map[string]any) string {
	if !strings.Contains(template, "[") {
		return template
	}

	var sb strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '[' {
			sb.WriteByte(c)
			continue
		}
		if i+1 < len(template) && template[i+1] == '[' {
			sb.WriteByte('[')
			i++
			continue
		}
		end := strings.IndexByte(template[i+1:], ']')
		if end < 0 {
			sb.WriteString(template[i:])
			break
		}
		key := template[i+1 : i+1+end]
		if value, ok := data[key]; ok {
			sb.WriteString(fmt.Sprint(value))
		} else {
			sb.WriteString(template[i : i+end+2])
		}
		i += end + 1
	}
	return sb.String()
}
