// Package language holds the fixed table of FLORES-200 language codes
// accepted by translation requests, e.g. "eng_Latn" or "fra_Latn".
package language

import (
	"slices"
	"strings"
)

// Placeholder is the value a language picker reports when no target has
// been chosen. It is never a valid code.
const Placeholder = "Select language"

// DefaultSource is the source language assumed for transcripts.
const DefaultSource = "eng_Latn"

// Language is one entry of the code table.
type Language struct {
	// Name is the English display name.
	Name string
	// Code is the FLORES-200 code: ISO-639-3 language plus ISO-15924 script.
	Code string
	// ISO6391 is the two-letter code used by speech models, if one exists.
	ISO6391 string
}

var table = []Language{
	{"Afrikaans", "afr_Latn", "af"},
	{"Amharic", "amh_Ethi", "am"},
	{"Arabic", "arb_Arab", "ar"},
	{"Bengali", "ben_Beng", "bn"},
	{"Bulgarian", "bul_Cyrl", "bg"},
	{"Catalan", "cat_Latn", "ca"},
	{"Chinese (Simplified)", "zho_Hans", "zh"},
	{"Chinese (Traditional)", "zho_Hant", "zh"},
	{"Croatian", "hrv_Latn", "hr"},
	{"Czech", "ces_Latn", "cs"},
	{"Danish", "dan_Latn", "da"},
	{"Dutch", "nld_Latn", "nl"},
	{"English", "eng_Latn", "en"},
	{"Estonian", "est_Latn", "et"},
	{"Finnish", "fin_Latn", "fi"},
	{"French", "fra_Latn", "fr"},
	{"German", "deu_Latn", "de"},
	{"Greek", "ell_Grek", "el"},
	{"Gujarati", "guj_Gujr", "gu"},
	{"Hebrew", "heb_Hebr", "he"},
	{"Hindi", "hin_Deva", "hi"},
	{"Hungarian", "hun_Latn", "hu"},
	{"Icelandic", "isl_Latn", "is"},
	{"Indonesian", "ind_Latn", "id"},
	{"Irish", "gle_Latn", "ga"},
	{"Italian", "ita_Latn", "it"},
	{"Japanese", "jpn_Jpan", "ja"},
	{"Kannada", "kan_Knda", "kn"},
	{"Korean", "kor_Hang", "ko"},
	{"Latvian", "lvs_Latn", "lv"},
	{"Lithuanian", "lit_Latn", "lt"},
	{"Malay", "zsm_Latn", "ms"},
	{"Malayalam", "mal_Mlym", "ml"},
	{"Marathi", "mar_Deva", "mr"},
	{"Norwegian Bokmål", "nob_Latn", "no"},
	{"Persian", "pes_Arab", "fa"},
	{"Polish", "pol_Latn", "pl"},
	{"Portuguese", "por_Latn", "pt"},
	{"Romanian", "ron_Latn", "ro"},
	{"Russian", "rus_Cyrl", "ru"},
	{"Serbian", "srp_Cyrl", "sr"},
	{"Slovak", "slk_Latn", "sk"},
	{"Slovenian", "slv_Latn", "sl"},
	{"Spanish", "spa_Latn", "es"},
	{"Swahili", "swh_Latn", "sw"},
	{"Swedish", "swe_Latn", "sv"},
	{"Tamil", "tam_Taml", "ta"},
	{"Telugu", "tel_Telu", "te"},
	{"Thai", "tha_Thai", "th"},
	{"Turkish", "tur_Latn", "tr"},
	{"Ukrainian", "ukr_Cyrl", "uk"},
	{"Urdu", "urd_Arab", "ur"},
	{"Vietnamese", "vie_Latn", "vi"},
	{"Welsh", "cym_Latn", "cy"},
	{"Zulu", "zul_Latn", "zu"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(table))
	for _, l := range table {
		m[l.Code] = l
	}
	return m
}()

// Lookup returns the language with the given FLORES-200 code.
func Lookup(code string) (Language, bool) {
	l, ok := byCode[code]
	return l, ok
}

// Valid reports whether code is a known FLORES-200 code.
func Valid(code string) bool {
	_, ok := byCode[code]
	return ok
}

// Resolve accepts either a code or an English display name (case-insensitive)
// and returns the matching language.
func Resolve(s string) (Language, bool) {
	if l, ok := byCode[s]; ok {
		return l, true
	}
	for _, l := range table {
		if strings.EqualFold(l.Name, s) {
			return l, true
		}
	}
	return Language{}, false
}

// Name returns the display name for code, or code itself when unknown.
func Name(code string) string {
	if l, ok := byCode[code]; ok {
		return l.Name
	}
	return code
}

// All returns every supported language sorted by name.
func All() []Language {
	return slices.Clone(table)
}
