package checkout

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// NewOrderID returns "<pincode>-<YYMMDD>-<10 hex digits>", e.g.
// 380001-251015-3FA85F6457. The suffix is taken from a random UUID.
func NewOrderID(pincode string, at time.Time) string {
	u := uuid.New()
	suffix := strings.ToUpper(hex.EncodeToString(u[:5]))
	prefix := strings.TrimSpace(pincode)
	if prefix == "" {
		prefix = "000000"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("060102"), suffix)
}

const qrSize = 256

// QRCode renders orderID as a PNG data URI for the receipt.
func QRCode(orderID string) (string, error) {
	png, err := qrcode.Encode(orderID, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("qr code for %s: %w", orderID, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
