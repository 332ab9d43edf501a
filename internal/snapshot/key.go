package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key identifies a (url, viewport name, selector) triple in storage. The
// human-readable prefix exists purely for operators browsing the snapshot
// directory; the hash suffix is what guarantees injectivity. Keys are never
// parsed back into their components - stored artifacts carry a JSON sidecar
// with the explicit fields instead.
type Key string

func (k Key) String() string { return string(k) }

// maxSlugLen bounds the readable prefix so keys stay usable as directory
// names on filesystems with component length limits.
const maxSlugLen = 80

// DeriveKey maps a target triple to its storage key. The mapping is total,
// deterministic and collision resistant: identical triples always produce
// the same key, and distinct triples differ in the hash suffix even when
// their sanitized prefixes collide.
func DeriveKey(url, viewportName, selector string) Key {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(viewportName))
	h.Write([]byte{0})
	h.Write([]byte(selector))
	digest := hex.EncodeToString(h.Sum(nil))[:12]

	slug := sanitize(url) + "_" + sanitize(viewportName)
	if selector != "" {
		slug += "_" + sanitize(selector)
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return Key(slug + "-" + digest)
}

// sanitize reduces an arbitrary string to a filesystem-safe token. The
// mapping is lossy; uniqueness comes from the hash, not from here.
func sanitize(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")

	var b strings.Builder
	b.Grow(len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
