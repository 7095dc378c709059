package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/event"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

func TestHTTPSender_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperrors.Code
		txid   int64
	}{
		{"created", http.StatusCreated, `{"txid":12}`, "", 12},
		{"validation", http.StatusBadRequest, `{"message":"invalid payload","errors":{"subject_id":"required"}}`, apperrors.CodeInvalidArgument, 0},
		{"unauthenticated", http.StatusUnauthorized, `{"message":"no session"}`, apperrors.CodeUnauthenticated, 0},
		{"conflict", http.StatusConflict, `{"message":"like not found"}`, apperrors.CodeConflict, 0},
		{"unimplemented", http.StatusNotImplemented, `{"message":"post.delete"}`, apperrors.CodeUnimplemented, 0},
		{"server error", http.StatusInternalServerError, `{"message":"boom"}`, apperrors.CodeUnavailable, 0},
		{"rate limited", http.StatusTooManyRequests, ``, apperrors.CodeUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/events", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				var e event.Event
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&e))
				assert.Equal(t, event.PostLike, e.Type)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e, err := event.New(event.PostLike, event.Subject{SubjectID: "p1"})
			require.NoError(t, err)
			id, err := NewHTTPSender(srv.URL+"/", "tok", srv.Client()).Send(context.Background(), e)
			if tt.want == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.txid, id)
				return
			}
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
		})
	}
}

func TestHTTPSender_ValidationFieldsSurvive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid payload","errors":{"content":"max"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSender(srv.URL, "", nil).Send(context.Background(), event.Event{Type: event.PostCreate})
	var ae *apperrors.AppError
	require.True(t, apperrors.As(err, &ae))
	assert.Equal(t, map[string]string{"content": "max"}, ae.Fields)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestHTTPSender_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSender(url, "", nil).Send(context.Background(), event.Event{Type: event.PostLike})
	assert.ErrorIs(t, err, apperrors.ErrTransport)
}
