package language

import (
	"strings"

	"golang.org/x/text/language"
)

type entry struct {
	code2   string   // ISO 639-1 (2-letter)
	code3   string   // ISO 639-2 primary (3-letter)
	alt3    string   // ISO 639-2 alternate (e.g. "per" vs "fas")
	display string   // Human-readable name
	words   []string // Full word forms (e.g. "arabic")
}

var languages = []entry{
	{"ar", "ara", "", "Arabic", []string{"arabic"}},
	{"fa", "fas", "per", "Persian", []string{"persian", "farsi"}},
	{"ur", "urd", "", "Urdu", []string{"urdu"}},
	{"he", "heb", "", "Hebrew", []string{"hebrew"}},
	{"yi", "yid", "", "Yiddish", []string{"yiddish"}},
	{"ps", "pus", "", "Pashto", []string{"pashto"}},
	{"ku", "kur", "", "Kurdish", []string{"kurdish"}},
	{"sd", "snd", "", "Sindhi", []string{"sindhi"}},
	{"ug", "uig", "", "Uyghur", []string{"uyghur", "uighur"}},
	{"dv", "div", "", "Divehi", []string{"divehi", "dhivehi"}},
	{"en", "eng", "", "English", []string{"english"}},
	{"fr", "fra", "fre", "French", []string{"french"}},
	{"de", "deu", "ger", "German", []string{"german"}},
	{"es", "spa", "", "Spanish", []string{"spanish"}},
	{"it", "ita", "", "Italian", []string{"italian"}},
	{"tr", "tur", "", "Turkish", []string{"turkish"}},
	{"ru", "rus", "", "Russian", []string{"russian"}},
}

// rtlScripts lists the ISO 15924 scripts written right to left.
var rtlScripts = map[string]struct{}{
	"Arab": {},
	"Hebr": {},
	"Syrc": {},
	"Thaa": {},
	"Nkoo": {},
	"Adlm": {},
	"Mand": {},
	"Samr": {},
	"Rohg": {},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byCode3[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// Split breaks a declaration such as "ara+eng" or "ar, en" into its codes.
func Split(declaration string) []string {
	fields := strings.FieldsFunc(declaration, func(r rune) bool {
		return r == '+' || r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Parse resolves a single language code to a BCP 47 tag.
func Parse(code string) (language.Tag, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return language.Und, false
	}
	if e := lookup(code); e != nil {
		code = e.code2
	}
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil || tag == language.Und {
		return language.Und, false
	}
	return tag, true
}

// ToISO2 converts any recognized language code to ISO 639-1. Unrecognized
// input returns "".
func ToISO2(code string) string {
	if e := lookup(code); e != nil {
		return e.code2
	}
	tag, ok := Parse(code)
	if !ok {
		return ""
	}
	base, _ := tag.Base()
	if s := base.String(); len(s) == 2 {
		return s
	}
	return ""
}

// DisplayName returns a human-readable language name for any recognized code.
// Returns "Unknown" for empty input, or the uppercased code otherwise.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	if e := lookup(code); e != nil {
		return e.display
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsRTL reports whether code names a language written right to left.
// Unknown codes are treated as left to right.
func IsRTL(code string) bool {
	tag, ok := Parse(code)
	if !ok {
		return false
	}
	script, _ := tag.Script()
	_, rtl := rtlScripts[script.String()]
	return rtl
}

// Direction is the reading direction of a page.
type Direction int

const (
	RightToLeft Direction = iota
	LeftToRight
)

func (d Direction) String() string {
	if d == LeftToRight {
		return "ltr"
	}
	return "rtl"
}

// DirectionOf picks the reading direction for a page from its declared
// languages. The first recognized language decides. A page that declares
// only unrecognized codes reads left to right; a page with no declaration
// at all reads right to left.
func DirectionOf(declared []string) Direction {
	seen := false
	for _, decl := range declared {
		for _, code := range Split(decl) {
			seen = true
			if _, ok := Parse(code); !ok {
				continue
			}
			if IsRTL(code) {
				return RightToLeft
			}
			return LeftToRight
		}
	}
	if seen {
		return LeftToRight
	}
	return RightToLeft
}

// NormalizeList deduplicates and normalizes codes to ISO 639-1 where
// possible, keeping unrecognized codes lowercased.
func NormalizeList(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, decl := range codes {
		for _, code := range Split(decl) {
			value := strings.ToLower(code)
			if mapped := ToISO2(value); mapped != "" {
				value = mapped
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			normalized = append(normalized, value)
		}
	}
	return normalized
}
