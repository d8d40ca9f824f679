package translate

import "strings"

// languageNames maps the language codes accepted in forced-language
// prefixes and routing policy. The set follows the Google Translate web
// service's supported languages.
var languageNames = map[string]string{
	"af":    "Afrikaans",
	"sq":    "Albanian",
	"am":    "Amharic",
	"ar":    "Arabic",
	"hy":    "Armenian",
	"az":    "Azerbaijani",
	"eu":    "Basque",
	"be":    "Belarusian",
	"bn":    "Bengali",
	"bs":    "Bosnian",
	"bg":    "Bulgarian",
	"ca":    "Catalan",
	"ceb":   "Cebuano",
	"ny":    "Chichewa",
	"zh-CN": "Chinese (Simplified)",
	"zh-TW": "Chinese (Traditional)",
	"co":    "Corsican",
	"hr":    "Croatian",
	"cs":    "Czech",
	"da":    "Danish",
	"nl":    "Dutch",
	"en":    "English",
	"eo":    "Esperanto",
	"et":    "Estonian",
	"tl":    "Filipino",
	"fi":    "Finnish",
	"fr":    "French",
	"fy":    "Frisian",
	"gl":    "Galician",
	"ka":    "Georgian",
	"de":    "German",
	"el":    "Greek",
	"gu":    "Gujarati",
	"ht":    "Haitian Creole",
	"ha":    "Hausa",
	"haw":   "Hawaiian",
	"iw":    "Hebrew",
	"hi":    "Hindi",
	"hmn":   "Hmong",
	"hu":    "Hungarian",
	"is":    "Icelandic",
	"ig":    "Igbo",
	"id":    "Indonesian",
	"ga":    "Irish",
	"it":    "Italian",
	"ja":    "Japanese",
	"jw":    "Javanese",
	"kn":    "Kannada",
	"kk":    "Kazakh",
	"km":    "Khmer",
	"rw":    "Kinyarwanda",
	"ko":    "Korean",
	"ku":    "Kurdish",
	"ky":    "Kyrgyz",
	"lo":    "Lao",
	"la":    "Latin",
	"lv":    "Latvian",
	"lt":    "Lithuanian",
	"lb":    "Luxembourgish",
	"mk":    "Macedonian",
	"mg":    "Malagasy",
	"ms":    "Malay",
	"ml":    "Malayalam",
	"mt":    "Maltese",
	"mi":    "Maori",
	"mr":    "Marathi",
	"mn":    "Mongolian",
	"my":    "Myanmar (Burmese)",
	"ne":    "Nepali",
	"no":    "Norwegian",
	"or":    "Odia",
	"ps":    "Pashto",
	"fa":    "Persian",
	"pl":    "Polish",
	"pt":    "Portuguese",
	"pa":    "Punjabi",
	"ro":    "Romanian",
	"ru":    "Russian",
	"sm":    "Samoan",
	"gd":    "Scots Gaelic",
	"sr":    "Serbian",
	"st":    "Sesotho",
	"sn":    "Shona",
	"sd":    "Sindhi",
	"si":    "Sinhala",
	"sk":    "Slovak",
	"sl":    "Slovenian",
	"so":    "Somali",
	"es":    "Spanish",
	"su":    "Sundanese",
	"sw":    "Swahili",
	"sv":    "Swedish",
	"tg":    "Tajik",
	"ta":    "Tamil",
	"tt":    "Tatar",
	"te":    "Telugu",
	"th":    "Thai",
	"tr":    "Turkish",
	"tk":    "Turkmen",
	"uk":    "Ukrainian",
	"ur":    "Urdu",
	"ug":    "Uyghur",
	"uz":    "Uzbek",
	"vi":    "Vietnamese",
	"cy":    "Welsh",
	"xh":    "Xhosa",
	"yi":    "Yiddish",
	"yo":    "Yoruba",
	"zu":    "Zulu",
}

// lowerToCanonical is built once so lookups are case-insensitive while the
// canonical casing (zh-CN) is preserved in results.
var lowerToCanonical = func() map[string]string {
	m := make(map[string]string, len(languageNames))
	for code := range languageNames {
		m[strings.ToLower(code)] = code
	}
	return m
}()

// CanonicalLanguage normalizes a language code to its canonical form,
// reporting whether the code is recognized.
func CanonicalLanguage(code string) (string, bool) {
	canonical, ok := lowerToCanonical[strings.ToLower(strings.TrimSpace(code))]
	return canonical, ok
}

// LanguageName returns the display name for a recognized code.
func LanguageName(code string) string {
	canonical, ok := CanonicalLanguage(code)
	if !ok {
		return ""
	}
	return languageNames[canonical]
}
