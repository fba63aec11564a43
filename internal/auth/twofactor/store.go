package twofactor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rightly/dsar-gateway/internal/proxy"
)

// BackendStore keeps settings on the DSAR backend at /api/v1/auth/2fa/<userId>
type BackendStore struct {
	client *proxy.Client
}

func NewBackendStore(client *proxy.Client) *BackendStore {
	return &BackendStore{client: client}
}

func settingsPath(userID string) string {
	return "/api/v1/auth/2fa/" + url.PathEscape(userID)
}

func (s *BackendStore) Get(ctx context.Context, userID string) (*Settings, error) {
	resp, err := s.client.Do(ctx, proxy.Request{Method: http.MethodGet, Path: settingsPath(userID)})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("get 2fa settings: upstream status %d", resp.StatusCode)
	}

	var settings Settings
	if err := json.Unmarshal(resp.Body, &settings); err != nil {
		return nil, fmt.Errorf("decode 2fa settings: %w", err)
	}
	return &settings, nil
}

func (s *BackendStore) Save(ctx context.Context, userID string, settings Settings) error {
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(ctx, proxy.Request{Method: http.MethodPost, Path: settingsPath(userID), Body: body})
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("save 2fa settings: upstream status %d", resp.StatusCode)
	}
	return nil
}

// MemoryStore is used in tests and local development
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]Settings)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, nil
	}
	settings.BackupCodes = append([]RecoveryCode(nil), settings.BackupCodes...)
	return &settings, nil
}

func (s *MemoryStore) Save(_ context.Context, userID string, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.BackupCodes = append([]RecoveryCode(nil), settings.BackupCodes...)
	s.settings[userID] = settings
	return nil
}
