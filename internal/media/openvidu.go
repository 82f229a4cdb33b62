package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/pkg/apperr"
)

const basicAuthUser = "OPENVIDUAPP"

// OpenVidu is a SessionProvider over the OpenVidu-class REST API with
// basic authentication.
type OpenVidu struct {
	baseURL string
	secret  string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenVidu creates an OpenVidu REST client.
func NewOpenVidu(baseURL, secret string, timeout time.Duration, logger *zap.Logger) *OpenVidu {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenVidu{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateSession creates the provider session using the broadcast id as the
// custom session id. A 409 means the session already exists on the provider
// side and is treated as success; the provider registry is authoritative.
func (o *OpenVidu) CreateSession(ctx context.Context, broadcastID uuid.UUID) (string, error) {
	body := map[string]string{"customSessionId": broadcastID.String()}
	var out struct {
		ID string `json:"id"`
	}
	status, err := o.doJSON(ctx, http.MethodPost, "/openvidu/api/sessions", body, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusConflict {
		return broadcastID.String(), nil
	}
	if out.ID == "" {
		return broadcastID.String(), nil
	}
	return out.ID, nil
}

// CreateToken issues a connection token via POST /sessions/{id}/connection.
func (o *OpenVidu) CreateToken(ctx context.Context, sessionID string, role Role, data string) (string, error) {
	body := map[string]string{"role": string(role), "data": data}
	var out struct {
		Token string `json:"token"`
	}
	if _, err := o.doJSON(ctx, http.MethodPost, "/openvidu/api/sessions/"+sessionID+"/connection", body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// CloseSession tears down the provider session.
func (o *OpenVidu) CloseSession(ctx context.Context, sessionID string) error {
	_, err := o.doJSON(ctx, http.MethodDelete, "/openvidu/api/sessions/"+sessionID, nil, nil)
	return err
}

// ForceDisconnect evicts one connection from the session.
func (o *OpenVidu) ForceDisconnect(ctx context.Context, sessionID, connectionID string) error {
	_, err := o.doJSON(ctx, http.MethodDelete, "/openvidu/api/sessions/"+sessionID+"/connection/"+connectionID, nil, nil)
	return err
}

// StartRecording begins recording the session.
func (o *OpenVidu) StartRecording(ctx context.Context, sessionID string) (string, error) {
	body := map[string]string{"session": sessionID}
	var out Recording
	if _, err := o.doJSON(ctx, http.MethodPost, "/openvidu/api/recordings/start", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// StopRecording stops an in-progress recording.
func (o *OpenVidu) StopRecording(ctx context.Context, recordingID string) error {
	_, err := o.doJSON(ctx, http.MethodPost, "/openvidu/api/recordings/stop/"+recordingID, nil, nil)
	return err
}

// GetRecording fetches recording metadata.
func (o *OpenVidu) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	var out Recording
	if _, err := o.doJSON(ctx, http.MethodGet, "/openvidu/api/recordings/"+recordingID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadRecording streams recording bytes with basic auth. Any non-200
// response or I/O error is a provider error the caller may retry.
func (o *OpenVidu) DownloadRecording(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperr.ErrOpenVidu, err)
	}
	req.SetBasicAuth(basicAuthUser, o.secret)
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: download: %v", apperr.ErrOpenVidu, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: download status %d", apperr.ErrOpenVidu, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// doJSON performs an authenticated JSON request. A 409 status is returned
// to the caller without error; other non-2xx statuses become provider errors.
func (o *OpenVidu) doJSON(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: marshal: %v", apperr.ErrOpenVidu, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrOpenVidu, err)
	}
	req.SetBasicAuth(basicAuthUser, o.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Warn("media provider request failed", zap.String("path", path), zap.Error(err))
		return 0, fmt.Errorf("%w: %s %s: %v", apperr.ErrOpenVidu, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.logger.Warn("media provider error response",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return resp.StatusCode, fmt.Errorf("%w: %s %s: status %d", apperr.ErrOpenVidu, method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("%w: decode: %v", apperr.ErrOpenVidu, err)
		}
	}
	return resp.StatusCode, nil
}
