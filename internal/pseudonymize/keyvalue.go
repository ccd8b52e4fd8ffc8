package pseudonymize

import "strings"

// parseKeyValueDescription parses the vendor's "key=value|key=value|..."
// ImageDescription convention into an ordered slice of pairs, preserving
// original order and tolerating keys with no '=' (kept with an empty
// value) since not every vendor field is guaranteed to carry one.
func parseKeyValueDescription(desc string) []kvPair {
	parts := strings.Split(desc, "|")
	out := make([]kvPair, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		k, v, found := strings.Cut(p, "=")
		if !found {
			out = append(out, kvPair{Key: k})
			continue
		}
		out = append(out, kvPair{Key: k, Value: v})
	}
	return out
}

type kvPair struct {
	Key   string
	Value string
}

// recognizedKeys are the identifier fields the vendor convention stores
// in an ImageDescription, per original_source/pseudonymisation.py's
// new_data keys (Filename, Title, Date, Time, "Time Zone", User).
var recognizedKeys = []string{"Filename", "Title", "Date", "Time", "Time Zone", "User"}

// looksLikeKeyValueDescription reports whether desc carries one of the
// recognized identifier keys, the trigger for capturing and replacing a
// given IFD's ImageDescription. A bare "=" is not enough: free-text
// descriptions can contain one without being this vendor convention.
func looksLikeKeyValueDescription(desc string) bool {
	for _, k := range recognizedKeys {
		if strings.Contains(desc, k+"=") {
			return true
		}
	}
	return false
}

// pseudonymDescription builds the replacement metadata string per §4.6
// step 7: {Filename, Title} set to pseudoID, {Date, Time, "Time Zone",
// User} dropped since their pseudonym value is null.
func pseudonymDescription(pseudoID string) string {
	pairs := []kvPair{
		{Key: "Filename", Value: pseudoID},
		{Key: "Title", Value: pseudoID},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, "|")
}
