package reference

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DisplayName returns name in NFC, title-cased when it was written in capitals only
// (the NCC columns of the INSEE files).
func DisplayName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name != "" && name == strings.ToUpper(name) && name != strings.ToLower(name) {
		return cases.Title(language.French).String(strings.ToLower(name))
	}
	return name
}
