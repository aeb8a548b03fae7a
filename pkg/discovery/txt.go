package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXT record keys.
const (
	// TXTKeyVersion carries the TXT layout version.
	TXTKeyVersion = "txtvers"

	// TXTKeyProfile prefixes the numbered profile keys "profile1", "profile2", ...
	TXTKeyProfile = "profile"

	// TXTKeyFeatures carries the greeting's features attribute.
	TXTKeyFeatures = "features"

	// TXTKeyLocalize carries the greeting's localize attribute.
	TXTKeyLocalize = "localize"
)

// TXTVersion is the TXT layout written by this package.
const TXTVersion = 1

// maxTXTString is the DNS limit for one TXT character-string.
const maxTXTString = 255

// ListenerTXT describes a listener's greeting in its TXT record.
type ListenerTXT struct {
	// Profiles are the profile URIs the listener advertises.
	Profiles []string

	// Features and Localize mirror the greeting attributes. Optional.
	Features string
	Localize string
}

// Encode returns the TXT strings. One key per profile keeps every string
// within the DNS limit.
func (t *ListenerTXT) Encode() []string {
	records := []string{TXTKeyVersion + "=" + strconv.Itoa(TXTVersion)}
	for i, uri := range t.Profiles {
		records = append(records, fmt.Sprintf("%s%d=%s", TXTKeyProfile, i+1, uri))
	}
	if t.Features != "" {
		records = append(records, TXTKeyFeatures+"="+t.Features)
	}
	if t.Localize != "" {
		records = append(records, TXTKeyLocalize+"="+t.Localize)
	}
	return records
}

// Validate checks that every record fits in a TXT character-string.
func (t *ListenerTXT) Validate() error {
	for _, r := range t.Encode() {
		if len(r) > maxTXTString {
			return fmt.Errorf("%w: record of %d octets exceeds %d", ErrInvalidTXTRecord, len(r), maxTXTString)
		}
	}
	for _, uri := range t.Profiles {
		if uri == "" {
			return fmt.Errorf("%w: empty profile URI", ErrInvalidTXTRecord)
		}
	}
	return nil
}

// HasProfile reports whether uri is advertised.
func (t *ListenerTXT) HasProfile(uri string) bool {
	for _, p := range t.Profiles {
		if p == uri {
			return true
		}
	}
	return false
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseListenerTXT parses raw TXT records into ListenerTXT. Profiles are
// returned in key order.
func ParseListenerTXT(records []string) (*ListenerTXT, error) {
	m := ParseTXT(records)

	if v, ok := m[TXTKeyVersion]; ok {
		if _, err := strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, v)
		}
	}

	type numbered struct {
		n   int
		uri string
	}
	var profiles []numbered
	for k, v := range m {
		if !strings.HasPrefix(k, TXTKeyProfile) {
			continue
		}
		n, err := strconv.Atoi(k[len(TXTKeyProfile):])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidTXTRecord, k)
		}
		profiles = append(profiles, numbered{n, v})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].n < profiles[j].n })

	txt := &ListenerTXT{
		Features: m[TXTKeyFeatures],
		Localize: m[TXTKeyLocalize],
	}
	for _, p := range profiles {
		txt.Profiles = append(txt.Profiles, p.uri)
	}
	return txt, nil
}
