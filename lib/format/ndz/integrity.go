package ndz

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/emulab/ndzcore/lib/core"
)

// Verifier checks a chunk's stored checksum against its contents. It is
// deliberately opaque about key management and signing: spec scope
// excludes crypto key management, so a Verifier is handed already-derived
// key material (or none, for the unsigned digest case) by its caller.
type Verifier interface {
	// Verify reports whether chunk matches checksum under the given
	// algorithm. signed indicates the checksum is a signature rather
	// than a bare digest; unsigned verifiers may reject signed
	// checksums outright.
	Verify(chunk []byte, checksumType ChecksumType, signed bool, checksum []byte) (bool, error)
}

// digestVerifier checks an unsigned checksum by recomputing the digest
// directly; it has no notion of signing keys.
type digestVerifier struct{}

// NewDigestVerifier returns a Verifier that only handles unsigned
// checksums, recomputing the digest with the algorithm named by the
// header's checksum type.
func NewDigestVerifier() Verifier { return digestVerifier{} }

func (digestVerifier) Verify(chunk []byte, checksumType ChecksumType, signed bool, checksum []byte) (bool, error) {
	if signed {
		return false, core.NewError(core.ResourceError, "ndz.digestVerifier.Verify",
			fmt.Errorf("signed checksums require a signature-aware Verifier"))
	}
	var got []byte
	switch checksumType {
	case ChecksumNone:
		return true, nil
	case ChecksumSHA1:
		sum := sha1.Sum(chunk)
		got = sum[:]
	case ChecksumSHA256:
		sum := sha256.Sum256(chunk)
		got = sum[:]
	case ChecksumSHA512:
		sum := sha512.Sum512(chunk)
		got = sum[:]
	default:
		return false, core.NewError(core.FormatError, "ndz.digestVerifier.Verify",
			fmt.Errorf("unknown checksum type %d", checksumType))
	}
	if len(checksum) < len(got) {
		return false, core.NewError(core.FormatError, "ndz.digestVerifier.Verify",
			fmt.Errorf("checksum field too short for algorithm"))
	}
	for i := range got {
		if got[i] != checksum[i] {
			return false, nil
		}
	}
	return true, nil
}
