// Package cloud: клиент ретранслятора. Client реализует push/pull конвертов для
// relay-синхронизации, Transport: канал CLOUD поверх почтовых ящиков ретранслятора.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

var (
	ErrUnauthorized = errors.New("relay rejected credentials")
	ErrRelay        = errors.New("relay error")
)

const userAgent = "companionsync/1.0"

// Client HTTP-клиент API ретранслятора
type Client struct {
	client   *http.Client
	log      *slog.Logger
	baseURL  string
	token    string
	deviceID string
}

func NewClient(baseURL, token, deviceID string, log *slog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		log:      log.With(slog.String("component", "relay_client")),
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		deviceID: deviceID,
	}
}

// status общая часть ответов ретранслятора
type status struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s status) err() error {
	if s.Status == "Error" {
		return fmt.Errorf("%w: %s", ErrRelay, s.Error)
	}
	return nil
}

type pushRequest struct {
	Envelope model.Envelope `json:"envelope"`
}

type pushResponse struct {
	status
	Created bool `json:"created"`
}

type pullResponse struct {
	status
	Envelopes []model.Envelope `json:"envelopes"`
	Cursor    string           `json:"cursor"`
}

type announceRequest struct {
	Name string `json:"name"`
}

type devicesResponse struct {
	status
	Devices []model.DirectoryEntry `json:"devices"`
}

type depositResponse struct {
	status
	ID int64 `json:"id"`
}

type fetchResponse struct {
	status
	Messages []model.MailboxMessage `json:"messages"`
}

type ackResponse struct {
	status
	Deleted int64 `json:"deleted"`
}

// HealthCheck проверяет доступность ретранслятора
func (c *Client) HealthCheck(ctx context.Context) error {
	var out status
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out)
}

// Push отправляет конверт; повторная отправка того же id безопасна
func (c *Client) Push(ctx context.Context, env model.Envelope) error {
	var out pushResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/relay/envelopes", pushRequest{Envelope: env}, &out); err != nil {
		return err
	}
	return out.err()
}

// Pull конверты других устройств после cursor
func (c *Client) Pull(ctx context.Context, cursor string) ([]model.Envelope, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if c.deviceID != "" {
		q.Set("device_id", c.deviceID)
	}

	var out pullResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/relay/envelopes?"+q.Encode(), nil, &out); err != nil {
		return nil, "", err
	}
	if err := out.err(); err != nil {
		return nil, "", err
	}
	return out.Envelopes, out.Cursor, nil
}

// Announce регистрирует устройство в каталоге
func (c *Client) Announce(ctx context.Context, deviceID, name string) error {
	var out status
	if err := c.do(ctx, http.MethodPut, "/api/v1/devices/"+url.PathEscape(deviceID), announceRequest{Name: name}, &out); err != nil {
		return err
	}
	return out.err()
}

func (c *Client) Devices(ctx context.Context) ([]model.DirectoryEntry, error) {
	var out devicesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, out.err()
}

// Deposit кладет кадр в ящик получателя m.To
func (c *Client) Deposit(ctx context.Context, m model.MailboxMessage) (int64, error) {
	var out depositResponse
	path := "/api/v1/mailbox/" + url.PathEscape(m.To) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, m, &out); err != nil {
		return 0, err
	}
	return out.ID, out.err()
}

// Fetch кадры ящика deviceID с номером больше after
func (c *Client) Fetch(ctx context.Context, deviceID string, after int64) ([]model.MailboxMessage, error) {
	var out fetchResponse
	path := "/api/v1/mailbox/" + url.PathEscape(deviceID) + "/messages?after=" + strconv.FormatInt(after, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, out.err()
}

// Ack удаляет кадры до upto включительно
func (c *Client) Ack(ctx context.Context, deviceID string, upto int64) error {
	var out ackResponse
	path := "/api/v1/mailbox/" + url.PathEscape(deviceID) + "/messages?upto=" + strconv.FormatInt(upto, 10)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return err
	}
	return out.err()
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debug("relay response",
		slog.String("method", method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil {
			if msg := firstNonEmpty(errResp.Error, errResp.Detail); msg != "" {
				return fmt.Errorf("%w: %s", ErrRelay, msg)
			}
		}
		return fmt.Errorf("%w: status %d", ErrRelay, resp.StatusCode)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
