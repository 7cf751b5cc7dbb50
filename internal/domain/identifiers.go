package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random entity id
func NewID() string {
	return uuid.New().String()
}

// NewOrderNumber returns an opaque, non-sequential order number
func NewOrderNumber(now time.Time) (string, error) {
	return prefixedNumber("ORD", now)
}

// NewTicketNumber returns a unique, non-sequential ticket number
func NewTicketNumber(now time.Time) (string, error) {
	return prefixedNumber("TKT", now)
}

func prefixedNumber(prefix string, now time.Time) (string, error) {
	suffix, err := randomBase36(6)
	if err != nil {
		return "", err
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return fmt.Sprintf("%s-%s-%s", prefix, ts, suffix), nil
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomBase36(n int) (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36[v.Int64()])
	}
	return sb.String(), nil
}

// NewScanCode returns 32 hex characters for QR payloads
func NewScanCode() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewBarcode returns a random 13-digit EAN-style code with a valid check digit
func NewBarcode() (string, error) {
	digits := make([]byte, 12)
	limit := big.NewInt(10)
	for i := range digits {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits) + string(byte('0'+EANCheckDigit(string(digits)))), nil
}

// EANCheckDigit computes the EAN-13 check digit of a 12-digit body
func EANCheckDigit(body string) int {
	sum := 0
	for i, c := range body {
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10
}
