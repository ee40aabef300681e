package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MatchKey returns the key used to detect the same publication across
// sources: the DOI when present, otherwise the normalized title.
func MatchKey(r *Record) string {
	if doi := strings.TrimSpace(r.DOI); doi != "" {
		return "doi:" + strings.ToLower(doi)
	}
	return "title:" + NormalizeTitle(r.Title)
}

// NormalizeTitle folds case, strips accents and collapses punctuation and
// whitespace into single spaces.
func NormalizeTitle(s string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		default:
			pendingSpace = b.Len() > 0
		}
	}
	return cases.Fold().String(b.String())
}

// Merge combines records describing the same publication. Scalar fields take
// the first non-empty value in argument order; authors and metadata values
// are unioned. Merge returns nil when no record is given.
func Merge(records ...*Record) *Record {
	var out *Record
	var sources []string
	for _, r := range records {
		if r == nil {
			continue
		}
		if out == nil {
			out = &Record{
				ID:         r.ID,
				Source:     r.Source,
				ExternalID: r.ExternalID,
				FetchedAt:  r.FetchedAt,
			}
		}
		sources = appendUnique(sources, r.Source)

		out.DOI = firstNonEmpty(out.DOI, r.DOI)
		out.Title = firstNonEmpty(out.Title, r.Title)
		out.Published = firstNonEmpty(out.Published, r.Published)
		if r.FetchedAt.After(out.FetchedAt) {
			out.FetchedAt = r.FetchedAt
		}

		for _, a := range r.Authors {
			out.Authors = appendUniqueFold(out.Authors, a)
		}
		for field, values := range r.Metadata {
			if out.Metadata == nil {
				out.Metadata = make(map[string][]string)
			}
			for _, v := range values {
				out.Metadata[field] = appendUnique(out.Metadata[field], v)
			}
		}
	}
	if out != nil && len(sources) > 1 {
		out.Add("merged.sources", sources...)
	}
	return out
}

// MergeAll groups records by MatchKey and merges every group, keeping the
// order in which groups first appear.
func MergeAll(records []*Record) []*Record {
	groups := make(map[string][]*Record)
	var order []string
	for _, r := range records {
		if r == nil {
			continue
		}
		key := MatchKey(r)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	merged := make([]*Record, 0, len(order))
	for _, key := range order {
		merged = append(merged, Merge(groups[key]...))
	}
	return merged
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueFold(list []string, v string) []string {
	if v == "" {
		return list
	}
	key := NormalizeTitle(v)
	for _, existing := range list {
		if NormalizeTitle(existing) == key {
			return list
		}
	}
	return append(list, v)
}
