// Package magnet derives cache identities and display names from magnet locators.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var (
	btihPattern = regexp.MustCompile(`(?i)btih:([0-9a-z]{32,40})`)
	dnPattern   = regexp.MustCompile(`dn=([^&]+)`)
)

// ExtractHash returns the lowercase 40 character hex info hash of a magnet
// locator or of a bare hex hash. Locators without a recoverable hash are
// returned unchanged.
func ExtractHash(uri string) string {
	if IsHash(uri) {
		return strings.ToLower(uri)
	}
	if m, err := metainfo.ParseMagnetUri(uri); err == nil {
		return m.InfoHash.HexString()
	}
	if hash, ok := scanBTIH(uri); ok {
		return hash
	}
	return uri
}

// scanBTIH tolerates locators that are not valid URIs but still carry a btih field.
func scanBTIH(uri string) (string, bool) {
	for _, match := range btihPattern.FindAllStringSubmatch(uri, -1) {
		value := match[1]
		if len(value) == 40 {
			if _, err := hex.DecodeString(value); err == nil {
				return strings.ToLower(value), true
			}
			continue
		}

		encoding := base32.StdEncoding.WithPadding(base32.NoPadding)
		decoded, err := encoding.DecodeString(strings.ToUpper(value))
		if err != nil || len(decoded) != 20 {
			continue
		}
		return hex.EncodeToString(decoded), true
	}
	return "", false
}

// DisplayName returns the decoded dn parameter of a magnet locator, or "".
func DisplayName(uri string) string {
	matches := dnPattern.FindStringSubmatch(uri)
	if len(matches) < 2 {
		return ""
	}
	name, err := url.QueryUnescape(matches[1])
	if err != nil {
		return strings.ReplaceAll(matches[1], "+", " ")
	}
	return name
}

// IsHash reports whether s is a bare 40 character hex info hash, in either case.
func IsHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
