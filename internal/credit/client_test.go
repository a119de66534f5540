package credit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/hedgebot/internal/domain"
)

func TestFetchScore(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scores/borrower-1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"borrower_id":"borrower-1","score":648,"updated_at":1756600000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	score, err := c.FetchScore(context.Background(), "borrower-1")
	require.NoError(t, err)
	assert.Equal(t, int64(648), score)
}

func TestFetchScoreValidation(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:0", "")
	_, err := c.FetchScore(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestFetchScoreStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		matchErr error
	}{
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, domain.ErrTransient},
		{"server error", http.StatusInternalServerError, domain.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "")
			_, err := c.FetchScore(context.Background(), "borrower-1")
			require.ErrorIs(t, err, tt.matchErr)
		})
	}
}

func TestFetchScoreRejectsNegative(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"borrower_id":"borrower-1","score":-5}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.FetchScore(context.Background(), "borrower-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative score")
}
