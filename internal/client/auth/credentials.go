package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/pkg/cryptox"
)

// CredentialsKey is the preference key the vault keeps the sealed pair under.
const CredentialsKey = "auth.credentials"

const sealInfo = "marketsync credential vault v1"

// ErrCredentialsUnreadable means a stored pair exists but cannot be opened,
// usually because the device secret changed. The caller should sign in again.
var ErrCredentialsUnreadable = errors.New("auth: stored credentials cannot be opened")

// CredentialStore persists the credential pair.
type CredentialStore interface {
	// Load returns the stored pair, or a zero pair when none is stored.
	Load(ctx context.Context) (domain.Credentials, error)
	Save(ctx context.Context, creds domain.Credentials) error
	Clear(ctx context.Context) error
}

// Vault keeps the pair sealed in the preferences partition.
type Vault struct {
	prefs  store.Preferences
	sealer *cryptox.Sealer
}

// NewVault seals credentials under a key derived from the device secret.
func NewVault(prefs store.Preferences, deviceSecret []byte) (*Vault, error) {
	sealer, err := cryptox.NewSealer(deviceSecret, sealInfo)
	if err != nil {
		return nil, domain.NewConfigurationFailure(err)
	}
	return &Vault{prefs: prefs, sealer: sealer}, nil
}

func (v *Vault) Load(ctx context.Context) (domain.Credentials, error) {
	p, err := v.prefs.Get(ctx, CredentialsKey)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Credentials{}, nil
	}
	if err != nil {
		return domain.Credentials{}, err
	}

	plain, err := v.sealer.Open(p.Value, []byte(CredentialsKey))
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: %w", ErrCredentialsUnreadable, err)
	}

	var creds domain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: %w", ErrCredentialsUnreadable, err)
	}
	return creds, nil
}

func (v *Vault) Save(ctx context.Context, creds domain.Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	sealed, err := v.sealer.Seal(plain, []byte(CredentialsKey))
	if err != nil {
		return domain.NewStorageFailure(err)
	}

	return v.prefs.Set(ctx, domain.Preference{
		Key:       CredentialsKey,
		Value:     sealed,
		UpdatedAt: time.Now().UTC(),
	})
}

func (v *Vault) Clear(ctx context.Context) error {
	return v.prefs.Remove(ctx, CredentialsKey)
}

// MemoryCredentials keeps the pair in memory only.
type MemoryCredentials struct {
	mu    sync.Mutex
	creds domain.Credentials
}

func (m *MemoryCredentials) Load(context.Context) (domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func (m *MemoryCredentials) Save(_ context.Context, creds domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	return nil
}

func (m *MemoryCredentials) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = domain.Credentials{}
	return nil
}

// LoadDeviceSecret reads the vault secret from path, creating it with fresh
// random bytes on first use. An empty path yields an ephemeral secret, so
// stored credentials do not survive a restart.
func LoadDeviceSecret(path string) ([]byte, bool, error) {
	if path == "" {
		secret, err := cryptox.GenerateSecret(cryptox.SecretSize)
		return secret, true, err
	}

	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < cryptox.SecretSize {
			return nil, false, domain.NewConfigurationFailure(
				fmt.Errorf("device key %s is shorter than %d bytes", path, cryptox.SecretSize))
		}
		return secret, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, domain.NewConfigurationFailure(fmt.Errorf("failed to read device key: %w", err))
	}

	secret, err = cryptox.GenerateSecret(cryptox.SecretSize)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, domain.NewConfigurationFailure(fmt.Errorf("failed to create device key dir: %w", err))
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, false, domain.NewConfigurationFailure(fmt.Errorf("failed to write device key: %w", err))
	}
	return secret, false, nil
}
