package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func successMessage() models.TelegramMessage {
	return models.TelegramMessage{
		Success:          true,
		Container:        "minecraft",
		StartTime:        time.Date(2026, 10, 19, 4, 0, 0, 0, time.UTC),
		Duration:         16*time.Minute + 30*time.Second,
		ArtifactPath:     "/backups/worlds_backup_20261019_041600.tar.gz",
		SizeBytes:        250 * 1000 * 1000,
		ArtifactsRemoved: 2,
		ArtifactsKept:    7,
		StopConfirmed:    true,
		Restarted:        true,
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successMessage())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "World backup successful")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successMessage())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successMessage())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestFormatMessage_Success(t *testing.T) {
	svc := New(testLogger())

	text := svc.formatMessage(successMessage())

	assert.Contains(t, text, "World backup successful")
	assert.Contains(t, text, "minecraft")
	assert.Contains(t, text, "worlds_backup_20261019_041600.tar.gz")
	assert.Contains(t, text, "Size: 250 MB")
	assert.Contains(t, text, "Backups kept: 7")
	assert.Contains(t, text, "Backups removed: 2")
	assert.NotContains(t, text, "restart failed")
	assert.NotContains(t, text, "live data")
}

func TestFormatMessage_Failure(t *testing.T) {
	svc := New(testLogger())

	msg := models.TelegramMessage{
		Success:       false,
		Container:     "minecraft",
		StartTime:     time.Now(),
		Duration:      time.Minute,
		StopConfirmed: true,
		Restarted:     true,
		FailedStep:    string(models.PhaseArchive),
		ErrorMessage:  "extracting /data/world: <no such file>",
	}

	text := svc.formatMessage(msg)

	assert.Contains(t, text, "World backup failed")
	assert.Contains(t, text, "Failed step: archive")
	assert.Contains(t, text, "&lt;no such file&gt;")
}

func TestFormatMessage_RestartFailed(t *testing.T) {
	svc := New(testLogger())

	msg := successMessage()
	msg.Restarted = false
	msg.StopConfirmed = false

	text := svc.formatMessage(msg)

	assert.Contains(t, text, "Server restart failed")
	assert.Contains(t, text, "live data")
}

func TestFormatMessage_WarnAbortOmitsLifecycleNotes(t *testing.T) {
	svc := New(testLogger())

	msg := models.TelegramMessage{
		Container:    "minecraft",
		FailedStep:   string(models.PhaseWarn),
		ErrorMessage: "countdown interrupted: context canceled",
	}

	text := svc.formatMessage(msg)

	assert.Contains(t, text, "Failed step: warn")
	assert.NotContains(t, text, "restart failed")
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeHTML(tt.input))
		})
	}
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, testConfig(), successMessage())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
