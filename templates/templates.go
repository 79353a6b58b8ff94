// Package templates expands Handlebars placeholders in scenario instructions,
// e.g. `type this text: {{faker "Internet.email"}}`.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

var charsets = map[string]string{
	"ALPHANUMERIC": "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
	"ALPHABETIC":   "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
	"NUMERIC":      "0123456789",
	"HEXADECIMAL":  "0123456789abcdef",
}

var registerOnce sync.Once

// Render expands text with vars and the registered helpers. Text without
// placeholders is returned unchanged. Output is never HTML-escaped.
func Render(text string, vars map[string]string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	registerOnce.Do(registerHelpers)

	tmpl, err := raymond.Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", text, err)
	}
	ctx := make(map[string]any, len(vars))
	for k, v := range vars {
		ctx[k] = raymond.SafeString(v)
	}
	out, err := tmpl.Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", text, err)
	}
	return out, nil
}

func registerHelpers() {
	raymond.RegisterHelper("randomValue", safe(randomValue))
	raymond.RegisterHelper("randomInt", safe(randomInt))
	raymond.RegisterHelper("now", safe(now))
	raymond.RegisterHelper("faker", func(key string) raymond.SafeString { return raymond.SafeString(faker(key)) })
	raymond.RegisterHelper("replace", func(value, old, repl any) raymond.SafeString {
		return raymond.SafeString(strings.ReplaceAll(raymond.Str(value), raymond.Str(old), raymond.Str(repl)))
	})
}

func safe(helper func(*raymond.Options) string) func(*raymond.Options) raymond.SafeString {
	return func(options *raymond.Options) raymond.SafeString {
		return raymond.SafeString(helper(options))
	}
}

// randomValue: {{randomValue type="NUMERIC" length=6 uppercase=true}}.
// type UUID ignores length.
func randomValue(options *raymond.Options) string {
	kind := strings.ToUpper(options.HashStr("type"))
	if kind == "UUID" {
		return uuid.New().String()
	}
	charset, ok := charsets[kind]
	if !ok {
		charset = charsets["ALPHANUMERIC"]
	}

	length := 10
	if v := options.HashProp("length"); v != nil {
		length = toInt(v)
	}
	s := randomString(charset, length)
	if raymond.IsTrue(options.HashProp("uppercase")) {
		s = strings.ToUpper(s)
	}
	return s
}

// randomInt: {{randomInt lower=1 upper=9}}, bounds inclusive.
func randomInt(options *raymond.Options) string {
	lower, upper := 0, 100
	if v := options.HashProp("lower"); v != nil {
		lower = toInt(v)
	}
	if v := options.HashProp("upper"); v != nil {
		upper = toInt(v)
	}
	if lower > upper {
		lower, upper = upper, lower
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
	if err != nil {
		return strconv.Itoa(lower)
	}
	return strconv.Itoa(lower + int(n.Int64()))
}

// now: {{now offset="-2 days" format="dd/MM/yyyy" timezone="Europe/Paris"}}.
// format also accepts "unix" and "epoch" (milliseconds); RFC 3339 by default.
func now(options *raymond.Options) string {
	t := time.Now().UTC()
	if offset := options.HashStr("offset"); offset != "" {
		if d, err := ParseOffset(offset); err == nil {
			t = t.Add(d)
		}
	}
	if tz := options.HashStr("timezone"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			t = t.In(loc)
		}
	}

	switch format := options.HashStr("format"); format {
	case "":
		return t.Format(time.RFC3339)
	case "unix":
		return strconv.FormatInt(t.Unix(), 10)
	case "epoch":
		return strconv.FormatInt(t.UnixMilli(), 10)
	default:
		return t.Format(JavaToGoDateFormat(format))
	}
}

var fakers = map[string]func(f *gofakeit.Faker) string{
	"Name.first_name":        func(f *gofakeit.Faker) string { return f.FirstName() },
	"Name.last_name":         func(f *gofakeit.Faker) string { return f.LastName() },
	"Name.full_name":         func(f *gofakeit.Faker) string { return f.Name() },
	"Internet.email":         func(f *gofakeit.Faker) string { return f.Email() },
	"Internet.username":      func(f *gofakeit.Faker) string { return f.Username() },
	"Internet.password":      func(f *gofakeit.Faker) string { return f.Password(true, true, true, false, false, 12) },
	"Internet.url":           func(f *gofakeit.Faker) string { return f.URL() },
	"Phone.number":           func(f *gofakeit.Faker) string { return f.Phone() },
	"Phone.number_formatted": func(f *gofakeit.Faker) string { return f.PhoneFormatted() },
	"Address.street":         func(f *gofakeit.Faker) string { return f.Street() },
	"Address.city":           func(f *gofakeit.Faker) string { return f.City() },
	"Address.country":        func(f *gofakeit.Faker) string { return f.Country() },
	"Address.postcode":       func(f *gofakeit.Faker) string { return f.Zip() },
	"Company.name":           func(f *gofakeit.Faker) string { return f.Company() },
	"Lorem.word":             func(f *gofakeit.Faker) string { return f.Word() },
	"Lorem.sentence":         func(f *gofakeit.Faker) string { return f.Sentence(5) },
	"Finance.credit_card":    func(f *gofakeit.Faker) string { return f.CreditCardNumber(nil) },
	"Misc.uuid":              func(f *gofakeit.Faker) string { return f.UUID() },
	"Misc.digit":             func(f *gofakeit.Faker) string { return f.Digit() },
	"Misc.date":              func(f *gofakeit.Faker) string { return f.Date().Format("2006-01-02") },
}

// faker: {{faker "Internet.email"}}. Unknown keys render as "".
func faker(key string) string {
	gen, ok := fakers[key]
	if !ok {
		return ""
	}
	return gen(gofakeit.New(0))
}

// FakerKeys lists the keys accepted by the faker helper.
func FakerKeys() []string {
	keys := make([]string, 0, len(fakers))
	for k := range fakers {
		keys = append(keys, k)
	}
	return keys
}

func randomString(charset string, length int) string {
	if length <= 0 {
		return ""
	}
	out := make([]byte, length)
	size := big.NewInt(int64(len(charset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return ""
		}
		out[i] = charset[n.Int64()]
	}
	return string(out)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

// ParseOffset parses "<n> <unit>" such as "3 days" or "-90 minutes".
// Months are 30 days and years 365 days.
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(offset)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset %q, expected '<n> <unit>'", offset)
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset amount %q: %w", parts[0], err)
	}

	day := 24 * time.Hour
	units := map[string]time.Duration{
		"second": time.Second,
		"minute": time.Minute,
		"hour":   time.Hour,
		"day":    day,
		"week":   7 * day,
		"month":  30 * day,
		"year":   365 * day,
	}
	unit, ok := units[strings.TrimSuffix(strings.ToLower(parts[1]), "s")]
	if !ok {
		return 0, fmt.Errorf("unknown time unit: %s", parts[1])
	}
	return time.Duration(n) * unit, nil
}

// javaLayouts maps SimpleDateFormat tokens to Go layout fragments, longest
// token first so a single left-to-right scan picks the longest match.
var javaLayouts = []struct{ java, layout string }{
	{"yyyy", "2006"}, {"MMMM", "January"}, {"EEEE", "Monday"},
	{"SSS", "000"}, {"MMM", "Jan"}, {"EEE", "Mon"},
	{"yy", "06"}, {"MM", "01"}, {"dd", "02"}, {"HH", "15"}, {"hh", "03"},
	{"mm", "04"}, {"ss", "05"},
	{"M", "1"}, {"d", "2"}, {"H", "15"}, {"h", "3"}, {"m", "4"}, {"s", "5"},
	{"a", "PM"}, {"z", "MST"}, {"Z", "-0700"},
}

// JavaToGoDateFormat converts a SimpleDateFormat pattern to a Go layout.
// Characters that are not pattern letters are copied as is.
func JavaToGoDateFormat(pattern string) string {
	var sb strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, t := range javaLayouts {
			if strings.HasPrefix(pattern[i:], t.java) {
				sb.WriteString(t.layout)
				i += len(t.java)
				matched = true
				break
			}
		}
		if !matched {
			sb.WriteByte(pattern[i])
			i++
		}
	}
	return sb.String()
}
