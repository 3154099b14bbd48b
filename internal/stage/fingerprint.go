package stage

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/steveyegge/sidecar/internal/constants"
)

// Fingerprint identifies the contents of path.
//
// "size" is the file length: cheap, but two builds of identical size collide.
// "xxhash" hashes the whole file. Fingerprints carry their mode as a prefix so
// switching modes always forces a re-stage.
func Fingerprint(path, mode string) (string, error) {
	switch mode {
	case constants.FingerprintSize, "":
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		return constants.FingerprintSize + ":" + strconv.FormatInt(info.Size(), 10), nil

	case constants.FingerprintXXHash:
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		h := xxhash.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s:%016x", constants.FingerprintXXHash, h.Sum64()), nil

	default:
		return "", fmt.Errorf("unknown fingerprint mode %q", mode)
	}
}
