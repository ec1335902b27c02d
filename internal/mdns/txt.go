package mdns

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// maxTXTKeyBytes is the DNS-SD limit on a TXT key (spec §3).
const maxTXTKeyBytes = 9

// maxTXTRecordBytes is the DNS-SD limit on a service's total TXT
// record size (spec §3).
const maxTXTRecordBytes = 1300

// Validate enforces the ServiceInstance TXT invariants of spec §3:
// printable-ASCII keys of at most 9 bytes, total record <= 1300 bytes.
func (t TXTEntries) Validate() error {
	total := 0
	for _, e := range t {
		if len(e.Key) == 0 || len(e.Key) > maxTXTKeyBytes {
			return errclass.New("txt.Validate", errclass.InvalidArgs,
				fmt.Errorf("TXT key %q exceeds %d ASCII bytes", e.Key, maxTXTKeyBytes))
		}
		for _, r := range e.Key {
			if r < 0x20 || r > 0x7e {
				return errclass.New("txt.Validate", errclass.InvalidArgs,
					fmt.Errorf("TXT key %q is not printable ASCII", e.Key))
			}
		}
		total += 1 + len(e.Key) + 1 + len(e.Value) // length-byte + key= + value
	}
	if total > maxTXTRecordBytes {
		return errclass.New("txt.Validate", errclass.InvalidArgs,
			fmt.Errorf("TXT record is %d bytes, exceeds %d byte limit", total, maxTXTRecordBytes))
	}
	return nil
}

// Encode renders entries as the character-strings of a DNS TXT RR, one
// "key=value" string per entry, matching RFC 6763 §6.
func (t TXTEntries) Encode() []string {
	out := make([]string, 0, len(t))
	for _, e := range t {
		var sb strings.Builder
		sb.WriteString(e.Key)
		sb.WriteByte('=')
		sb.Write(e.Value)
		out = append(out, sb.String())
	}
	return out
}

// DecodeTXT parses the character-strings of a TXT RR back into
// TXTEntries, the inverse of Encode (spec round-trip property R2).
func DecodeTXT(strs []string) TXTEntries {
	out := make(TXTEntries, 0, len(strs))
	for _, s := range strs {
		idx := strings.IndexByte(s, '=')
		if idx < 0 {
			out = append(out, TXTEntry{Key: s})
			continue
		}
		out = append(out, TXTEntry{Key: s[:idx], Value: []byte(s[idx+1:])})
	}
	return out
}

// BuildTXTRR constructs the wire-format dns.TXT resource record for
// name using the miekg/dns library, the same codec the embedded
// publisher and the Discovery Proxy's DNS-SD translation share.
func BuildTXTRR(name string, ttl uint32, entries TXTEntries) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(name),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Txt: entries.Encode(),
	}
}
