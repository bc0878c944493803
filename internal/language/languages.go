package language

import "fmt"

// Languages maps the codes clients may send to the names used in prompts.
var Languages = map[string]string{
	"en": "English",
	"fr": "French",
	"es": "Spanish",
	"nl": "Dutch",
	"gr": "Greek",
	"it": "Italian",
	"pt": "Portuguese",
	"ja": "Japanese",
	"zh": "Chinese",
}

type UnknownLanguageError struct {
	Code string
}

func (e *UnknownLanguageError) Error() string {
	return fmt.Sprintf("unknown language code %q", e.Code)
}

// Lookup returns the display name for code.
func Lookup(code string) (string, error) {
	name, ok := Languages[code]
	if !ok {
		return "", &UnknownLanguageError{Code: code}
	}
	return name, nil
}
