package judge

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Mojibake seen in provider output for Spanish calls. Whole words go first;
// the bare replacement character is most often a lost ñ.
var mojibake = strings.NewReplacer(
	"Al�", "Aló",
	"Qu�", "Qué",
	"c�mo", "cómo",
	"est�", "está",
	"S�", "Sí",
	"Aj�", "Ajá",
	"se�or", "señor",
	"tambi�n", "también",
	"adi�s", "adiós",
	"despu�s", "después",
	"informaci�n", "información",
	"�", "ñ",
)

// Clean repairs known mojibake, normalizes to NFC and collapses whitespace.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	cleaned := mojibake.Replace(text)
	cleaned = norm.NFC.String(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}
