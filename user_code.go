package grantd

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// User code formats selectable per deployment.
const (
	UserCodeTypeNumeric = "numeric"
	UserCodeTypeCharset = "charset"
)

// UserCodeGenerator produces the short human-enterable codes shown at the
// device verification URI. Generators are keyed by a user code type and
// registered with the device flow service; collisions are handled by the
// caller with a bounded retry.
type UserCodeGenerator interface {
	Generate() (string, error)
}

// NumericUserCodeGenerator produces 9-digit numeric codes rendered in groups
// of three (e.g. "123-456-789").
type NumericUserCodeGenerator struct{}

func (NumericUserCodeGenerator) Generate() (string, error) {
	var b strings.Builder
	for i := 0; i < 9; i++ {
		if i > 0 && i%3 == 0 {
			b.WriteByte('-')
		}
		digit, err := randomIndex(10)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + digit))
	}
	return b.String(), nil
}

// CharsetUserCodeGenerator produces codes from the RFC 8628 section 6.1
// recommended consonant alphabet, two groups of four (e.g. "WDJB-MJHT").
// The restricted alphabet avoids accidental words and ambiguous glyphs.
type CharsetUserCodeGenerator struct{}

const userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"

func (CharsetUserCodeGenerator) Generate() (string, error) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		idx, err := randomIndex(len(userCodeCharset))
		if err != nil {
			return "", err
		}
		b.WriteByte(userCodeCharset[idx])
	}
	return b.String(), nil
}

// NormalizeUserCode canonicalizes user input before lookup: uppercase with
// separators and whitespace stripped, then re-grouped by the generator's
// format at display time only. Lookup always uses the stripped form.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// randomIndex returns a uniform random index in [0, n) from crypto/rand,
// using rejection sampling to avoid modulo bias.
func randomIndex(n int) (int, error) {
	if n <= 0 || n > 256 {
		return 0, fmt.Errorf("invalid alphabet size %d", n)
	}
	limit := 256 - (256 % n)
	buf := make([]byte, 1)
	for {
		if _, err := rand.Read(buf); err != nil {
			return 0, fmt.Errorf("failed to read random byte: %w", err)
		}
		if int(buf[0]) < limit {
			return int(buf[0]) % n, nil
		}
	}
}
