package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// shortCodeCharset omits the confusable characters 0, 1, I and O so codes
// survive being read over the phone or typed at the door.
const shortCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ShortCode returns a 6-character manual-entry code.
func ShortCode() (string, error) {
	code := make([]byte, 6)

	if _, err := rand.Read(code); err != nil {
		return "", err
	}

	for i := range code {
		code[i] = shortCodeCharset[int(code[i])%len(shortCodeCharset)]
	}

	return string(code), nil
}

// TicketNo returns a ticket number of the form FTC<yy><mm><rand4>.
func TicketNo() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}

	now := time.Now()
	return fmt.Sprintf("FTC%02d%02d%04d", now.Year()%100, int(now.Month()), n.Int64()), nil
}

// BulkOrderID returns an id shared by every unit of one purchase.
func BulkOrderID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("BULK%d%04d", time.Now().UnixNano(), n.Int64()), nil
}
