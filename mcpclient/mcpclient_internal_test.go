package mcpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/message"
)

func TestCheckFailedBeforeFailure(t *testing.T) {
	c := &Client{}
	require.NoError(t, c.checkFailed())
}

func TestMarkFailedIsSticky(t *testing.T) {
	c := &Client{}
	c.markFailed(errors.New("transport lost"))
	c.markFailed(errors.New("second failure ignored"))

	err := c.checkFailed()
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrTransport, mcpErr.Kind)
	assert.Contains(t, c.failure.Error(), "transport lost")
}

func TestClassifyDistinguishesCancelledFromTransport(t *testing.T) {
	c := &Client{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.classify(errors.New("boom"), ctx)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, ErrCancelled, cErr.Kind)

	c2 := &Client{}
	err2 := c2.classify(errors.New("boom"), context.Background())
	var tErr *Error
	require.ErrorAs(t, err2, &tErr)
	assert.Equal(t, ErrTransport, tErr.Kind)
	require.Error(t, c2.checkFailed())
}

func TestTransportLabelDefaultsToStdio(t *testing.T) {
	assert.Equal(t, "stdio", transportLabel(""))
	assert.Equal(t, "sse", transportLabel(message.ExtensionSSE))
}

func TestTargetLabelPicksURIForHTTPTransports(t *testing.T) {
	assert.Equal(t, "https://example.com/mcp", targetLabel(Config{Transport: message.ExtensionStreamableHTTP, URI: "https://example.com/mcp", Command: "ignored"}))
	assert.Equal(t, "some-cmd", targetLabel(Config{Command: "some-cmd"}))
}

func TestRequestTimeoutOrDefault(t *testing.T) {
	assert.Equal(t, 30*time.Second, requestTimeoutOrDefault(Config{}))
	assert.Equal(t, 5*time.Second, requestTimeoutOrDefault(Config{RequestTimeout: 5 * time.Second}))
}

func TestHandleNotificationFansOutProgressAndLogMessages(t *testing.T) {
	c := &Client{}
	sub1 := c.Subscribe()
	sub2 := c.Subscribe()

	progress := mcp.JSONRPCNotification{}
	progress.Method = methodNotificationProgress
	progress.Params.AdditionalFields = map[string]any{"progress": 0.5}
	c.handleNotification(progress)

	logMsg := mcp.JSONRPCNotification{}
	logMsg.Method = methodNotificationMessage
	logMsg.Params.AdditionalFields = map[string]any{"level": "info"}
	c.handleNotification(logMsg)

	for _, sub := range []<-chan Notification{sub1, sub2} {
		n := <-sub
		assert.Equal(t, "progress", n.Kind)
		n = <-sub
		assert.Equal(t, "logging_message", n.Kind)
	}
}

func TestHandleNotificationIgnoresUnrecognizedMethods(t *testing.T) {
	c := &Client{}
	sub := c.Subscribe()

	other := mcp.JSONRPCNotification{}
	other.Method = "notifications/cancelled"
	c.handleNotification(other)

	select {
	case n := <-sub:
		t.Fatalf("expected no notification, got %+v", n)
	default:
	}
}
