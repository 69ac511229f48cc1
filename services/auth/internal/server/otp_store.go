package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"exammate/internal/util"
	"exammate/pkg/sms"
)

var (
	errOTPSendRateLimited   = errors.New("too many verification code requests")
	errOTPChallengeInvalid  = errors.New("verification request is invalid")
	errOTPCodeInvalid       = errors.New("incorrect verification code")
	errOTPCodeExpired       = errors.New("verification code expired")
	errOTPCodeRequired      = errors.New("verification code is required")
	errOTPChallengeRequired = errors.New("verification session is required")
)

type otpStore struct {
	client            *redis.Client
	sender            sms.Sender
	keyPrefix         string
	challengeTTL      time.Duration
	challengePersist  time.Duration
	resendAfter       time.Duration
	maxVerifyAttempts int
}

type otpChallenge struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	CodeHash   string    `json:"codeHash"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Attempts   int       `json:"attempts"`
	MaxAttempt int       `json:"maxAttempt"`
}

func newOTPStore(addr, password string, sender sms.Sender) (*otpStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("otp redis addr is required")
	}
	if sender == nil {
		return nil, errors.New("otp sms sender is required")
	}
	challengeTTL := 5 * time.Minute
	return &otpStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		sender:            sender,
		keyPrefix:         "exammate:auth:otp",
		challengeTTL:      challengeTTL,
		challengePersist:  challengeTTL + time.Minute,
		resendAfter:       time.Minute,
		maxVerifyAttempts: 5,
	}, nil
}

// CreateChallenge sends a verification code to the normalized phone number
// and records a bcrypt hash of it for later verification.
func (s *otpStore) CreateChallenge(phone string) (string, int, int, error) {
	if s == nil {
		return "", 0, 0, errors.New("otp store not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resendKey := s.resendKey(phone)
	allowed, err := s.client.SetNX(ctx, resendKey, "1", s.resendAfter).Result()
	if err != nil {
		return "", 0, 0, err
	}
	if !allowed {
		return "", 0, 0, errOTPSendRateLimited
	}

	code, err := s.sender.Send(ctx, phone)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", 0, 0, fmt.Errorf("send otp code: %w", err)
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", 0, 0, fmt.Errorf("hash otp code: %w", err)
	}
	challengeID := util.NewID()
	challenge := otpChallenge{
		ID:         challengeID,
		Phone:      phone,
		CodeHash:   string(codeHash),
		ExpiresAt:  time.Now().UTC().Add(s.challengeTTL),
		Attempts:   0,
		MaxAttempt: s.maxVerifyAttempts,
	}
	raw, err := json.Marshal(challenge)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", 0, 0, fmt.Errorf("marshal otp challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.challengeKey(challengeID), raw, s.challengePersist).Err(); err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", 0, 0, err
	}
	return challengeID, int(s.challengeTTL.Seconds()), int(s.resendAfter.Seconds()), nil
}

func (s *otpStore) VerifyChallenge(challengeID, phone, code string) error {
	if s == nil {
		return errors.New("otp store not configured")
	}
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return errOTPChallengeRequired
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errOTPCodeRequired
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := s.challengeKey(challengeID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return errOTPChallengeInvalid
	}
	if err != nil {
		return err
	}
	var challenge otpChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("unmarshal otp challenge: %w", err)
	}
	if challenge.ID == "" || challenge.Phone != phone {
		return errOTPChallengeInvalid
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		_ = s.client.Del(ctx, key).Err()
		return errOTPCodeExpired
	}
	if challenge.Attempts >= challenge.MaxAttempt {
		_ = s.client.Del(ctx, key).Err()
		return errOTPChallengeInvalid
	}
	if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		challenge.Attempts++
		if challenge.Attempts >= challenge.MaxAttempt {
			_ = s.client.Del(ctx, key).Err()
		} else {
			raw, marshalErr := json.Marshal(challenge)
			if marshalErr == nil {
				ttl, ttlErr := s.client.TTL(ctx, key).Result()
				if ttlErr == nil && ttl > 0 {
					_ = s.client.Set(ctx, key, raw, ttl).Err()
				}
			}
		}
		return errOTPCodeInvalid
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return err
	}
	return nil
}

func (s *otpStore) challengeKey(challengeID string) string {
	return fmt.Sprintf("%s:challenge:%s", s.keyPrefix, challengeID)
}

func (s *otpStore) resendKey(phone string) string {
	return fmt.Sprintf("%s:resend:%s", s.keyPrefix, phone)
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:len(phone)-4] + "****"
}
