package mail

import (
	"strings"

	gomail "github.com/emersion/go-message/mail"
)

// ExtractAddresses parses a raw RFC 5322 address-list header value and
// returns the lowercased addresses it contains. Malformed input yields
// whatever parsed cleanly — a bad header contributes nothing and never
// fails the caller.
func ExtractAddresses(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var h gomail.Header
	h.Set("To", raw)
	list, err := h.AddressList("To")
	if err != nil && len(list) == 0 {
		return nil
	}

	var out []string
	for _, a := range list {
		addr := strings.ToLower(strings.TrimSpace(a.Address))
		if addr == "" || !strings.Contains(addr, "@") {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// SenderAddresses returns the addresses in the message's From header.
func SenderAddresses(m Message) []string {
	return ExtractAddresses(m.From)
}

// RecipientAddresses returns the union of To, Cc and Bcc addresses.
func RecipientAddresses(m Message) []string {
	var out []string
	for _, raw := range []string{m.To, m.Cc, m.Bcc} {
		out = append(out, ExtractAddresses(raw)...)
	}
	return out
}
