package wire

import "strings"

// Record syntax object identifiers.
const (
	OIDUnimarc = "1.2.840.10003.5.1"
	OIDUSMarc  = "1.2.840.10003.5.10"
	OIDSUTRS   = "1.2.840.10003.5.101"
	OIDOPAC    = "1.2.840.10003.5.102"
	OIDGRS1    = "1.2.840.10003.5.105"
	OIDXML     = "1.2.840.10003.5.109.10"
)

var syntaxByName = map[string]string{
	"unimarc": OIDUnimarc,
	"usmarc":  OIDUSMarc,
	"marc21":  OIDUSMarc,
	"sutrs":   OIDSUTRS,
	"opac":    OIDOPAC,
	"grs-1":   OIDGRS1,
	"grs1":    OIDGRS1,
	"xml":     OIDXML,
}

var nameBySyntax = map[string]string{
	OIDUnimarc: "unimarc",
	OIDUSMarc:  "usmarc",
	OIDSUTRS:   "sutrs",
	OIDOPAC:    "opac",
	OIDGRS1:    "grs-1",
	OIDXML:     "xml",
}

// SyntaxOID resolves a record syntax name to its OID. Dotted OIDs are
// returned unchanged. An empty name resolves to "".
func SyntaxOID(name string) (string, bool) {
	if name == "" {
		return "", true
	}
	if isOID(name) {
		return name, true
	}
	oid, ok := syntaxByName[strings.ToLower(name)]
	return oid, ok
}

// SyntaxName returns the short name of a record syntax OID, or the OID
// itself when it has no registered name.
func SyntaxName(oid string) string {
	if name, ok := nameBySyntax[oid]; ok {
		return name
	}
	return oid
}

func isOID(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for _, r := range s {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return strings.Contains(s, ".")
}
