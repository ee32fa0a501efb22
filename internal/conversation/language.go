package conversation

import "fmt"

// Language selects the language of prompts, greetings and notices.
type Language string

const (
	Spanish Language = "es"
	English Language = "en"
)

// IsValid reports whether l is a supported language.
func (l Language) IsValid() bool {
	return l == Spanish || l == English
}

// ParseLanguage validates s as a [Language].
func ParseLanguage(s string) (Language, error) {
	l := Language(s)
	if !l.IsValid() {
		return "", fmt.Errorf("conversation: unsupported language %q; valid values: es, en", s)
	}
	return l, nil
}

// pick returns en for English and es otherwise.
func pick(l Language, es, en string) string {
	if l == English {
		return en
	}
	return es
}
