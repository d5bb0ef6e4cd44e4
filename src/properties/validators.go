package properties

import (
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRegex = regexp.MustCompile("(?i)^[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$")
	urlRegex   = regexp.MustCompile(`(?i)^https?://(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z]{2,6}\.?|localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(?::\d+)?(?:/?|[/?]\S+)$`)
)

func matchText(r *regexp.Regexp, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "" || r.MatchString(s)
}

// Email accepts an email address or the empty string.
func Email(v any) bool {
	return matchText(emailRegex, v)
}

// URL accepts an http(s) URL or the empty string.
func URL(v any) bool {
	return matchText(urlRegex, v)
}

// NoSpaces rejects text containing a space.
func NoSpaces(v any) bool {
	s, ok := v.(string)
	return ok && !strings.Contains(s, " ")
}

// MinLength accepts text of at least n runes.
func MinLength(n int) Validator {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && utf8.RuneCountInString(s) >= n
	}
}

// MaxLength accepts text of at most n runes.
func MaxLength(n int) Validator {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && utf8.RuneCountInString(s) <= n
	}
}

// OneOf accepts only the listed values.
func OneOf(values ...any) Validator {
	return func(v any) bool {
		if v == nil || !reflect.TypeOf(v).Comparable() {
			return false
		}
		for _, allowed := range values {
			if allowed == v {
				return true
			}
		}
		return false
	}
}
