package pseudonymize

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// syntheticFirstNames and syntheticLastNames back pseudonymous display
// names. No pack or ecosystem faker-style library was available to draw
// on (see DESIGN.md); this is an intentionally small, stdlib-only word
// list rather than an attempt at a general name generator.
var syntheticFirstNames = []string{
	"Alex", "Sam", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Drew",
	"Avery", "Quinn", "Reese", "Rowan", "Skyler", "Dana", "Blake",
}

var syntheticLastNames = []string{
	"Rivers", "Stone", "Fields", "Harper", "Bishop", "Carter", "Ellis",
	"Gray", "Holt", "Lane", "Moss", "Pike", "Reed", "Sloan", "Vance",
}

func randomChoice(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", err
	}
	return words[n.Int64()], nil
}

// syntheticFullName draws an unrelated first+last name pair.
func syntheticFullName() (string, error) {
	first, err := randomChoice(syntheticFirstNames)
	if err != nil {
		return "", err
	}
	last, err := randomChoice(syntheticLastNames)
	if err != nil {
		return "", err
	}
	return first + " " + last, nil
}

// syntheticAge draws a patient pseudo-age uniformly in [20, 70] per the
// data model's Patient.pseudo_age rule.
func syntheticAge() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(51))
	if err != nil {
		return 0, err
	}
	return 20 + int(n.Int64()), nil
}

// cloneDestination picks a sibling path to src whose stem is pseudoID,
// uniquifying with suffixFormat (e.g. "_%d") on collision, per §4.6 step 4.
func cloneDestination(suffixFormat, src, pseudoID string) (string, error) {
	dir := filepath.Dir(src)
	ext := filepath.Ext(src)
	base := filepath.Join(dir, pseudoID+ext)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base, nil
	}
	for n := 1; n < 10000; n++ {
		candidate := filepath.Join(dir, pseudoID+fmt.Sprintf(suffixFormat, n)+ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cloneDestination: exhausted suffixes for %s", pseudoID)
}

// copyFile duplicates src to dst byte-for-byte.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// stripNonIdentifying returns name with leading and trailing whitespace
// removed; it does not compare the name against any original.
func stripNonIdentifying(name string) string {
	return strings.TrimSpace(name)
}
