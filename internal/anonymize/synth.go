package anonymize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"
)

// derivation is a deterministic value source seeded from the session salt
// and a composite of the input being replaced. The same salt and input
// always yield the same synthetic output.
type derivation struct {
	digest []byte
}

func derive(salt []byte, parts ...string) derivation {
	mac := hmac.New(sha256.New, salt)
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{0})
		}
		mac.Write([]byte(p))
	}
	return derivation{digest: mac.Sum(nil)}
}

// uintAt reads one of four independent 64-bit lanes from the digest.
func (d derivation) uintAt(lane int) uint64 {
	off := (lane % 4) * 8
	return binary.BigEndian.Uint64(d.digest[off : off+8])
}

func (d derivation) pick(list []string, lane int) string {
	return list[d.uintAt(lane)%uint64(len(list))]
}

// digits returns n decimal digits from the given lane, cycling lanes for
// long runs.
func (d derivation) digits(n int) string {
	var b strings.Builder
	lane := 0
	v := d.uintAt(lane)
	for i := 0; i < n; i++ {
		if v == 0 {
			lane++
			v = d.uintAt(lane)
		}
		b.WriteByte(byte('0' + v%10))
		v /= 10
	}
	return b.String()
}

// alnum returns n uppercase alphanumeric characters.
func (d derivation) alnum(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	lane := 0
	v := d.uintAt(lane)
	for i := 0; i < n; i++ {
		if v < 36 {
			lane++
			v = d.uintAt(lane) | v<<32
		}
		b.WriteByte(alphabet[v%36])
		v /= 36
	}
	return b.String()
}

func (d derivation) intn(n int, lane int) int {
	return int(d.uintAt(lane) % uint64(n))
}

// Synthetic vocabulary. Drawn from census-common tokens so replacement
// values read as demographically plausible while the combinations are
// fabricated.
var syntheticSurnames = []string{
	"ANDERSON", "BAKER", "CAMPBELL", "CARTER", "COLLINS", "COOPER",
	"DIAZ", "EDWARDS", "EVANS", "FISHER", "FOSTER", "GRANT",
	"GRIFFIN", "HAYES", "HOLMES", "HUNTER", "JORDAN", "KELLY",
	"LAWSON", "MASON", "MORGAN", "MURRAY", "NELSON", "OWENS",
	"PALMER", "PARKER", "PEARSON", "PORTER", "REED", "RHODES",
	"SPENCER", "STONE", "SUTTON", "TATE", "TUCKER", "VAUGHN",
	"WALTERS", "WARREN", "WEBB", "WHEELER",
}

var syntheticGivenNames = []string{
	"ALEX", "AVERY", "BLAIR", "CAMERON", "CASEY", "DAKOTA",
	"DREW", "ELLIS", "EMERY", "FINLEY", "HARPER", "HAYDEN",
	"JAMIE", "JESSE", "JORDAN", "JULES", "KENDALL", "LANE",
	"LOGAN", "MARLOW", "MICAH", "MORGAN", "NOEL", "PARKER",
	"PEYTON", "QUINN", "REESE", "RILEY", "ROBIN", "ROWAN",
	"RYAN", "SAGE", "SAWYER", "SIDNEY", "SKYLER", "TAYLOR",
	"TERRY", "TONI", "VAL", "WREN",
}

var syntheticStreets = []string{
	"100 OAK ST", "200 MAPLE AVE", "300 PINE RD", "400 CEDAR LN",
	"500 ELM DR", "600 BIRCH CT", "700 WALNUT BLVD", "800 SPRUCE WAY",
}

var syntheticCities = []string{
	"SPRINGFIELD", "FAIRVIEW", "RIVERSIDE", "FRANKLIN",
	"GREENVILLE", "CLINTON", "MADISON", "GEORGETOWN",
}

// normalize canonicalizes an original value for mapping-key purposes:
// case-insensitive, whitespace-collapsed.
func normalize(value string) string {
	fields := strings.Fields(strings.ToUpper(value))
	return strings.Join(fields, " ")
}

// digitCount counts decimal digits in a value.
func digitCount(value string) int {
	n := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// alphaPrefix returns the leading letters of a value, e.g. "MR" of
// "MR000123".
func alphaPrefix(value string) string {
	for i, r := range value {
		if r < 'A' || (r > 'Z' && r < 'a') || r > 'z' {
			return value[:i]
		}
	}
	return value
}

func itoa(n int) string { return strconv.Itoa(n) }
