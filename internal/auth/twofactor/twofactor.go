package twofactor

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotEnabled   = errors.New("two-factor authentication is not enabled")
	ErrInvalidToken = errors.New("invalid verification code")
)

const (
	recoveryCodeCount    = 10
	recoveryCodeLength   = 8
	recoveryCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var recoveryCodePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// RecoveryCode is stored hashed; the plain code is shown to the user once
type RecoveryCode struct {
	Hash   string     `json:"hash"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"usedAt,omitempty"`
}

type Settings struct {
	Enabled     bool           `json:"enabled"`
	Secret      string         `json:"secret,omitempty"`
	BackupCodes []RecoveryCode `json:"backupCodes"`
	LastUsed    *time.Time     `json:"lastUsed,omitempty"`
}

type Status struct {
	Enabled              bool `json:"enabled"`
	SetupComplete        bool `json:"setupComplete"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// Setup is what an authenticator app needs to enrol
type Setup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCodeURL  string `json:"qrCodeUrl"`
}

// Store persists per-user settings
type Store interface {
	// Get returns nil when the user has no settings
	Get(ctx context.Context, userID string) (*Settings, error)
	Save(ctx context.Context, userID string, s Settings) error
}

type Manager struct {
	store      Store
	issuer     string
	bcryptCost int
	now        func() time.Time

	// serializes read-modify-write of stored settings
	mu sync.Mutex
}

type Option func(*Manager)

func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		if issuer != "" {
			m.issuer = issuer
		}
	}
}

func WithBcryptCost(cost int) Option {
	return func(m *Manager) { m.bcryptCost = cost }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		issuer:     "Rightly",
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateSecret creates a new TOTP secret for the account
func (m *Manager) GenerateSecret(email string) (*Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	return &Setup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodeURL:  QRCodeURL(key.URL()),
	}, nil
}

func QRCodeURL(otpauth string) string {
	return "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=" + url.QueryEscape(otpauth)
}

// VerifyToken checks a 6 digit code, allowing one period of clock skew
func (m *Manager) VerifyToken(token, secret string) bool {
	ok, err := totp.ValidateCustom(token, secret, m.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateRecoveryCodes returns the plain codes and their stored form
func (m *Manager) GenerateRecoveryCodes(n int) ([]string, []RecoveryCode, error) {
	plain := make([]string, 0, n)
	stored := make([]RecoveryCode, 0, n)

	for i := 0; i < n; i++ {
		code, err := randomCode()
		if err != nil {
			return nil, nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), m.bcryptCost)
		if err != nil {
			return nil, nil, fmt.Errorf("hash recovery code: %w", err)
		}
		plain = append(plain, code)
		stored = append(stored, RecoveryCode{Hash: string(hash)})
	}
	return plain, stored, nil
}

func randomCode() (string, error) {
	alphabet := big.NewInt(int64(len(recoveryCodeAlphabet)))
	buf := make([]byte, recoveryCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		buf[i] = recoveryCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Enable verifies the first code from the app, stores the secret and returns
// fresh recovery codes.
func (m *Manager) Enable(ctx context.Context, userID, secret, token string) ([]string, error) {
	if !m.VerifyToken(token, secret) {
		return nil, ErrInvalidToken
	}

	plain, stored, err := m.GenerateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}

	now := m.now()
	settings := Settings{
		Enabled:     true,
		Secret:      secret,
		BackupCodes: stored,
		LastUsed:    &now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, userID, settings); err != nil {
		return nil, fmt.Errorf("save 2fa settings: %w", err)
	}
	return plain, nil
}

func (m *Manager) Disable(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Save(ctx, userID, Settings{Enabled: false, BackupCodes: []RecoveryCode{}}); err != nil {
		return fmt.Errorf("save 2fa settings: %w", err)
	}
	return nil
}

// Validate accepts a TOTP code or an unused recovery code. Recovery codes are
// consumed on success.
func (m *Manager) Validate(ctx context.Context, userID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, err := m.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if settings == nil || !settings.Enabled || settings.Secret == "" {
		return false, nil
	}

	if recoveryCodePattern.MatchString(token) {
		idx := matchRecoveryCode(settings.BackupCodes, token)
		if idx < 0 {
			return false, nil
		}
		now := m.now()
		settings.BackupCodes[idx].Used = true
		settings.BackupCodes[idx].UsedAt = &now
		settings.LastUsed = &now
		if err := m.store.Save(ctx, userID, *settings); err != nil {
			return false, fmt.Errorf("save 2fa settings: %w", err)
		}
		return true, nil
	}

	return m.VerifyToken(token, settings.Secret), nil
}

func matchRecoveryCode(codes []RecoveryCode, code string) int {
	for i, rc := range codes {
		if rc.Used {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(rc.Hash), []byte(code)) == nil {
			return i
		}
	}
	return -1
}

// RegenerateBackupCodes replaces every recovery code
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil || !settings.Enabled {
		return nil, ErrNotEnabled
	}

	plain, stored, err := m.GenerateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}
	settings.BackupCodes = stored
	if err := m.store.Save(ctx, userID, *settings); err != nil {
		return nil, fmt.Errorf("save 2fa settings: %w", err)
	}
	return plain, nil
}

func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	settings, err := m.store.Get(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if settings == nil {
		return Status{}, nil
	}

	remaining := 0
	for _, rc := range settings.BackupCodes {
		if !rc.Used {
			remaining++
		}
	}

	return Status{
		Enabled:              settings.Enabled,
		SetupComplete:        settings.Enabled && settings.Secret != "" && len(settings.BackupCodes) > 0,
		BackupCodesRemaining: remaining,
	}, nil
}
