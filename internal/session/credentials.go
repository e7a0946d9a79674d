package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/soyeahso/concierge/internal/domain"
)

// CredentialStore persists the opaque credential material a transport hands
// back once a session is ready.
type CredentialStore interface {
	// Load returns nil, nil when nothing is stored.
	Load(owner string, kind domain.ChannelKind) ([]byte, error)
	Save(owner string, kind domain.ChannelKind, data []byte) error
	Delete(owner string, kind domain.ChannelKind) error
}

// FileCredentialStore keeps credentials at <dir>/<owner>/<channel>.
type FileCredentialStore struct {
	dir string
}

// NewFileCredentialStore creates a store rooted at dir.
func NewFileCredentialStore(dir string) *FileCredentialStore {
	return &FileCredentialStore{dir: dir}
}

func (s *FileCredentialStore) path(owner string, kind domain.ChannelKind) (string, error) {
	for _, part := range []string{owner, string(kind)} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("credentials: invalid path component %q", part)
		}
	}
	return filepath.Join(s.dir, owner, string(kind)), nil
}

func (s *FileCredentialStore) Load(owner string, kind domain.ChannelKind) ([]byte, error) {
	p, err := s.path(owner, kind)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: reading %s: %w", p, err)
	}
	return data, nil
}

// Save writes data atomically with owner-only permissions.
func (s *FileCredentialStore) Save(owner string, kind domain.ChannelKind, data []byte) error {
	p, err := s.path(owner, kind)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("credentials: creating dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credentials: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credentials: saving %s: %w", p, err)
	}
	return nil
}

func (s *FileCredentialStore) Delete(owner string, kind domain.ChannelKind) error {
	p, err := s.path(owner, kind)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credentials: deleting %s: %w", p, err)
	}
	return nil
}

// PairingPNG renders a pairing artifact as a QR code image.
func PairingPNG(artifact string, size int) ([]byte, error) {
	if artifact == "" {
		return nil, errors.New("pairing: empty artifact")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(artifact, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("pairing: encoding qr: %w", err)
	}
	return png, nil
}
