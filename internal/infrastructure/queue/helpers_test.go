package queue

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/infrastructure/commerce"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db.DB
}

// fakeSubmitter records submissions and answers with the configured result
type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	bodies  [][]byte
	err     error
	id      string
	onCall  func()
	blockCh chan struct{}
}

func (s *fakeSubmitter) Submit(ctx context.Context, contentType string, body io.Reader) (*commerce.SubmitResult, error) {
	data, _ := io.ReadAll(body)

	s.mu.Lock()
	s.calls++
	s.bodies = append(s.bodies, data)
	onCall, block, err, id := s.onCall, s.blockCh, s.err, s.id
	s.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = "srv-1"
	}
	return &commerce.SubmitResult{ID: id}, nil
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func simpleSubmission(name string) *offline.Submission {
	return &offline.Submission{Fields: map[string]string{"name": name}}
}
