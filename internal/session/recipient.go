package session

import (
	"strings"
	"unicode"

	"go.mau.fi/whatsmeow/types"
)

// addressServers are the domains a fully qualified recipient may use.
var addressServers = map[string]bool{
	types.DefaultUserServer: true,
	types.GroupServer:       true,
	types.HiddenUserServer:  true,
	types.NewsletterServer:  true,
}

// NormalizeRecipient turns a phone number into a protocol address.
// Anything containing "@" must already be a well-formed address.
func NormalizeRecipient(number string) (string, error) {
	number = strings.TrimSpace(number)
	if strings.Contains(number, "@") {
		return qualifiedRecipient(number)
	}

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, number)

	if digits == "" {
		return "", ErrValidation
	}

	return types.NewJID(digits, types.DefaultUserServer).String(), nil
}

func qualifiedRecipient(addr string) (string, error) {
	if strings.Count(addr, "@") != 1 {
		return "", ErrValidation
	}
	jid, err := types.ParseJID(addr)
	if err != nil {
		return "", ErrValidation
	}
	if jid.User == "" || strings.ContainsFunc(jid.User, unicode.IsSpace) || !addressServers[jid.Server] {
		return "", ErrValidation
	}
	return jid.String(), nil
}
