package identity

import "strings"

// CandidateKeys returns the alternate idempotency fingerprints of r, in the
// order email, name|document, name, name|document|gender. Components are
// omitted when their source field is empty and duplicates are dropped. Every
// key needs a name or an email, so a record with only a document or gender
// yields nil, as does an all-empty one. A nil result must never be treated as
// a match.
func CandidateKeys(r Record) []string {
	name := NormalizeName(r.Name)
	email := strings.ToLower(strings.TrimSpace(r.Email))
	doc := strings.TrimSpace(r.Document)
	gender := strings.ToLower(strings.TrimSpace(r.Gender))

	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}

	if email != "" {
		add(email)
	}
	if name != "" && doc != "" {
		add(name + "|" + doc)
	}
	if name != "" {
		add(name)
	}
	if name != "" && doc != "" && gender != "" {
		add(name + "|" + doc + "|" + gender)
	}
	return keys
}
