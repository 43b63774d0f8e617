package transport

import "strings"

// Key exchange algorithm names.
const (
	KexCurve25519SHA256       = "curve25519-sha256"
	KexCurve25519SHA256LibSSH = "curve25519-sha256@libssh.org"
	KexECDHSHA2Nistp256       = "ecdh-sha2-nistp256"
	KexECDHSHA2Nistp384       = "ecdh-sha2-nistp384"
	KexECDHSHA2Nistp521       = "ecdh-sha2-nistp521"
	KexDHGroup1SHA1           = "diffie-hellman-group1-sha1"
	KexDHGroup14SHA1          = "diffie-hellman-group14-sha1"
	KexDHGroup14SHA256        = "diffie-hellman-group14-sha256"
	KexDHGroup16SHA512        = "diffie-hellman-group16-sha512"
	KexDHGEXSHA1              = "diffie-hellman-group-exchange-sha1"
	KexDHGEXSHA256            = "diffie-hellman-group-exchange-sha256"
)

// DefaultKeyExchanges is the ordered list a new transport supports.
var DefaultKeyExchanges = []string{
	KexCurve25519SHA256, KexCurve25519SHA256LibSSH,
	KexECDHSHA2Nistp256, KexECDHSHA2Nistp384, KexECDHSHA2Nistp521,
	KexDHGEXSHA256,
	KexDHGroup16SHA512, KexDHGroup14SHA256, KexDHGroup14SHA1,
}

const groupExchangePrefix = "diffie-hellman-group-exchange-"

// IsFixedGroup reports whether the algorithm completes without a
// server-supplied modulus. Only the group exchange family needs one.
func IsFixedGroup(name string) bool {
	return !strings.HasPrefix(name, groupExchangePrefix)
}

// engineUnsupported lists algorithms withheld from the x/crypto server. Its
// group exchange answers every request from the built-in Oakley groups 14,
// 15 and 16 and never asks the moduli repository for a group.
var engineUnsupported = map[string]struct{}{
	KexDHGEXSHA1:   {},
	KexDHGEXSHA256: {},
}

func engineKeyExchanges(advertised []string) []string {
	out := make([]string, 0, len(advertised))
	for _, algo := range advertised {
		if _, ok := engineUnsupported[algo]; !ok {
			out = append(out, algo)
		}
	}
	return out
}
