// Package names provides normalization and similarity primitives for
// handwritten Ghanaian names as they appear in photographed tithe books.
//
// OCR output for the same member varies across weeks: titles come and go,
// day-names appear in male/female/short forms (Kofi, Fiifi, Yoofi), and
// common surnames are spelled a half-dozen ways (Asante, Ashanti, Asantey).
// Every function here is pure and total over strings: empty input yields
// empty or neutral output, never an error.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// titles is the honorific vocabulary stripped before any comparison.
// Covers clerical, traditional and civil titles common in roster imports.
var titles = map[string]bool{
	"rev": true, "reverend": true, "pastor": true, "ps": true,
	"elder": true, "eld": true, "deacon": true, "deaconess": true, "dcn": true,
	"catechist": true, "apostle": true, "prophet": true, "prophetess": true,
	"overseer": true, "bishop": true, "evangelist": true, "evang": true,
	"nana": true, "maame": true, "madam": true, "mad": true,
	"bro": true, "brother": true, "sis": true, "sister": true,
	"mr": true, "mrs": true, "miss": true, "ms": true, "dr": true, "hon": true,
}

// dayNames maps every known day-name spelling to its day-of-week key.
// Male, female and short forms of the same day denote the same underlying
// name even when orthographically distinct.
var dayNames = map[string]string{
	// Monday
	"kwadwo": "monday", "kojo": "monday", "kwadjo": "monday", "jojo": "monday",
	"adwoa": "monday", "adjoa": "monday", "ajoa": "monday",
	// Tuesday
	"kwabena": "tuesday", "kobina": "tuesday", "kobby": "tuesday", "ebo": "tuesday",
	"abena": "tuesday", "araba": "tuesday",
	// Wednesday
	"kwaku": "wednesday", "kweku": "wednesday", "abeiku": "wednesday", "kuuku": "wednesday",
	"akua": "wednesday", "ekua": "wednesday", "kukua": "wednesday",
	// Thursday
	"yaw": "thursday", "yao": "thursday", "ekow": "thursday", "kwaw": "thursday",
	"yaa": "thursday", "aba": "thursday",
	// Friday
	"kofi": "friday", "fiifi": "friday", "fifi": "friday", "yoofi": "friday",
	"afua": "friday", "afia": "friday", "efua": "friday", "afi": "friday",
	// Saturday
	"kwame": "saturday", "kwamena": "saturday", "kwamina": "saturday", "ato": "saturday",
	"ama": "saturday", "amma": "saturday", "amba": "saturday",
	// Sunday
	"kwasi": "sunday", "kwesi": "sunday", "akwasi": "sunday", "siisi": "sunday",
	"akosua": "sunday", "esi": "sunday", "akos": "sunday",
}

// surnameVariants maps known misspelling clusters to one canonical spelling.
// The clusters come from recurring OCR confusions in imported master lists.
var surnameVariants = map[string]string{
	"asante": "asante", "ashanti": "asante", "asantey": "asante", "asanteh": "asante",
	"mensah": "mensah", "mensa": "mensah", "menza": "mensah", "menzah": "mensah",
	"owusu": "owusu", "owoosu": "owusu", "owusuh": "owusu",
	"boateng": "boateng", "boaten": "boateng", "boatang": "boateng",
	"sarpong": "sarpong", "sarpon": "sarpong", "serpong": "sarpong",
	"gyasi": "gyasi", "jasi": "gyasi", "gyassi": "gyasi",
	"appiah": "appiah", "apia": "appiah", "appia": "appiah", "apiah": "appiah",
	"frimpong": "frimpong", "frimpon": "frimpong", "frempong": "frimpong",
	"agyemang": "agyemang", "agyeman": "agyemang", "adjeman": "agyemang",
	"ankrah": "ankrah", "ankra": "ankrah",
	"quartey": "quartey", "quarty": "quartey", "kwartey": "quartey",
	"tetteh": "tetteh", "tette": "tetteh", "teteh": "tetteh",
}

// foldTransformer strips combining marks so accented and plain spellings
// compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases s and removes diacritics.
func fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// cleanToken trims surrounding punctuation from a token.
func cleanToken(t string) string {
	return strings.TrimFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// StripTitles removes honorifics (case-insensitive, whole-word) and
// lowercases the remainder.
func StripTitles(name string) string {
	fields := strings.Fields(fold(name))
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		f = cleanToken(f)
		if f == "" || titles[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// Tokenize strips titles, splits on whitespace and lowercases.
// A lone initial is kept as a one-character token.
func Tokenize(name string) []string {
	stripped := StripTitles(name)
	if stripped == "" {
		return nil
	}
	return strings.Fields(stripped)
}

// PhoneticCode produces a coarse phonetic key tolerant of common
// transliteration variance. Two spellings a human would consider the same
// name produce identical or prefix-identical codes.
//
// Rules: fold case and diacritics, collapse digraphs that transliterate
// interchangeably (sh/s, ph/f, ch/k, gy/j, dj/j), map interchangeable
// consonants (c/q to k, z/x to s, v to f), drop vowels after the leading
// character, and collapse repeats.
func PhoneticCode(name string) string {
	s := fold(name)

	// Keep letters only.
	var letters strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			letters.WriteRune(r)
		}
	}
	s = letters.String()
	if s == "" {
		return ""
	}

	// Digraph collapsing before per-rune mapping.
	for _, d := range [][2]string{
		{"sh", "s"}, {"ph", "f"}, {"ch", "k"}, {"gh", "g"},
		{"gy", "j"}, {"dj", "j"}, {"ck", "k"}, {"kw", "k"},
	} {
		s = strings.ReplaceAll(s, d[0], d[1])
	}

	var code []byte
	for i := range len(s) {
		c := s[i]
		switch c {
		case 'c', 'q':
			c = 'k'
		case 'z', 'x':
			c = 's'
		case 'v':
			c = 'f'
		}
		isVowel := c == 'a' || c == 'e' || c == 'i' || c == 'o' || c == 'u' || c == 'y'
		if isVowel && len(code) > 0 {
			continue
		}
		if len(code) > 0 && code[len(code)-1] == c {
			continue
		}
		code = append(code, c)
	}
	return string(code)
}

// DayNameKey returns the day-of-week key for a known day-name spelling,
// or "" if the name is not a day-name.
func DayNameKey(name string) string {
	return dayNames[cleanToken(fold(name))]
}

// AreDayNameVariants reports whether a and b derive from the same
// day-of-week naming tradition. Symmetric by construction.
func AreDayNameVariants(a, b string) bool {
	ka := DayNameKey(a)
	return ka != "" && ka == DayNameKey(b)
}

// NormalizeSurname maps known surname misspelling clusters to one
// canonical spelling. Unknown surnames fold to lowercase unchanged.
func NormalizeSurname(name string) string {
	n := cleanToken(fold(name))
	if canonical, ok := surnameVariants[n]; ok {
		return canonical
	}
	return n
}

// AreSurnameVariants reports whether a and b belong to the same known
// surname misspelling cluster.
func AreSurnameVariants(a, b string) bool {
	na := NormalizeSurname(a)
	return na != "" && na == NormalizeSurname(b)
}

// Similarity tiers for TokenSimilarity. Exact match is 1.0; everything
// else rewards progressively weaker evidence.
const (
	scoreDayVariant     = 0.90
	scoreSurnameVariant = 0.90
	scorePhoneticEqual  = 0.85
	scorePhoneticPrefix = 0.75
	scorePrefix         = 0.70
	scoreInitial        = 0.65
)

// TokenSimilarity scores two name tokens in [0,1].
// 1.0 for identical normalized strings; day-name variance, phonetic-code
// overlap and prefix containment score progressively lower; unrelated
// tokens fall back to a common-prefix ratio.
func TokenSimilarity(a, b string) float64 {
	na := cleanToken(fold(a))
	nb := cleanToken(fold(b))
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	if AreDayNameVariants(na, nb) {
		return scoreDayVariant
	}
	if _, known := surnameVariants[na]; known && AreSurnameVariants(na, nb) {
		return scoreSurnameVariant
	}

	// A lone initial matches any token starting with it.
	if len(na) == 1 || len(nb) == 1 {
		if na[0] == nb[0] {
			return scoreInitial
		}
		return 0
	}

	pa, pb := PhoneticCode(na), PhoneticCode(nb)
	if pa != "" && pa == pb {
		return scorePhoneticEqual
	}
	if pa != "" && pb != "" && len(pa) >= 2 && len(pb) >= 2 &&
		(strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa)) {
		return scorePhoneticPrefix
	}

	if len(na) >= 3 && len(nb) >= 3 &&
		(strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na)) {
		return scorePrefix
	}

	// Fallback: shared-prefix ratio, capped below the prefix tier so weak
	// overlap never outranks structural evidence.
	lcp := 0
	for lcp < len(na) && lcp < len(nb) && na[lcp] == nb[lcp] {
		lcp++
	}
	ratio := float64(2*lcp) / float64(len(na)+len(nb))
	if ratio > 0.6 {
		ratio = 0.6
	}
	return ratio
}
