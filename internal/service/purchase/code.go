package purchase

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// newPurchaseCode returns EP-<unix millis>-<12 hex chars>.
func newPurchaseCode(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return fmt.Sprintf("EP-%d-%s", now.UnixMilli(), hex.EncodeToString(b)), nil
}

func renderPNG(code string) ([]byte, error) {
	return qrcode.Encode(code, qrcode.Medium, qrImageSize)
}
