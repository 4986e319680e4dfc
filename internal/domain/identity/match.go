package identity

import (
	"strings"
	"unicode"
)

// Match compares a user's full name and email with the owners on an item.
// The name matches when every word of fullName appears in a single owner
// name, so "Alberta Charleson" matches "Alberta Bobbeth Charleson". Emails
// compare case-insensitively. The check passes only when both match.
func Match(fullName, email string, owners []Owner) Check {
	c := Check{OwnerNames: []string{}, OwnerEmails: []string{}}
	want := nameWords(fullName)
	email = strings.ToLower(strings.TrimSpace(email))

	for _, o := range owners {
		for _, n := range o.Names {
			c.OwnerNames = append(c.OwnerNames, n)
			if len(want) > 0 && containsAll(nameWords(n), want) {
				c.NameMatch = true
			}
		}
		for _, e := range o.Emails {
			c.OwnerEmails = append(c.OwnerEmails, e)
			if email != "" && strings.ToLower(strings.TrimSpace(e)) == email {
				c.EmailMatch = true
			}
		}
	}
	c.Passed = c.NameMatch && c.EmailMatch
	return c
}

func nameWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, w := range have {
		set[w] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
