package sms

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
)

// Sender delivers a login verification code to a phone number and
// returns the code that was sent.
type Sender interface {
	Send(ctx context.Context, phone string) (string, error)
}

// LogSender generates a code locally and logs it instead of sending an
// SMS. Intended for development and tests.
type LogSender struct {
	CodeLength int
}

// Send generates a numeric code and logs it at info level.
func (s *LogSender) Send(ctx context.Context, phone string) (string, error) {
	length := s.CodeLength
	if length <= 0 {
		length = 6
	}
	code, err := generateNumericCode(length)
	if err != nil {
		return "", err
	}
	slog.Info("sms code generated (log sender)", "phone", maskPhone(phone), "code", code)
	return code, nil
}

func generateNumericCode(length int) (string, error) {
	max := big.NewInt(10)
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:len(phone)-4] + "****"
}
