package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/livemarket/backend/pkg/apperr"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenVidu {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenVidu(srv.URL, "secret", time.Second, nil)
}

func TestCreateSession(t *testing.T) {
	broadcastID := uuid.New()
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/openvidu/api/sessions", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "OPENVIDUAPP", user)
		require.Equal(t, "secret", pass)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, broadcastID.String(), body["customSessionId"])
		_ = json.NewEncoder(w).Encode(map[string]string{"id": body["customSessionId"]})
	})

	id, err := p.CreateSession(context.Background(), broadcastID)
	require.NoError(t, err)
	require.Equal(t, broadcastID.String(), id)
}

func TestCreateSessionConflictIsExisting(t *testing.T) {
	broadcastID := uuid.New()
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	id, err := p.CreateSession(context.Background(), broadcastID)
	require.NoError(t, err)
	require.Equal(t, broadcastID.String(), id)
}

func TestCreateTokenError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := p.CreateToken(context.Background(), "ses_1", RoleSubscriber, "")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrOpenVidu))
}

func TestDownloadRecordingNon200(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, _, err := p.DownloadRecording(context.Background(), p.baseURL+"/recordings/rec_1")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrOpenVidu))
}

func TestDownloadRecordingStreamsBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "OPENVIDUAPP", user)
		_, _ = w.Write([]byte("video-bytes"))
	})

	body, _, err := p.DownloadRecording(context.Background(), p.baseURL+"/recordings/rec_1")
	require.NoError(t, err)
	defer body.Close()
	buf := make([]byte, 32)
	n, _ := body.Read(buf)
	require.Equal(t, "video-bytes", string(buf[:n]))
}
