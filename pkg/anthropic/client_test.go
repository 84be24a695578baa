package anthropic

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisfab/forecast-ingest/internal/resilience"
)

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_test_123",
		Model:      "claude-sonnet-4-5-20250929",
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello world"},
			{Type: "text", Text: "Second block"},
		},
		Usage: sdk.Usage{
			InputTokens:              100,
			OutputTokens:             50,
			CacheCreationInputTokens: 2000,
			CacheReadInputTokens:     3000,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "Hello worldSecond block", resp.Text())
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(2000), resp.Usage.CacheCreationInputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_empty",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Empty(t, resp.Text())
}

func TestToSDKMessages_TextOnly(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Text: "analyze this"},
		{Role: "assistant", Text: "ok"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[0].Content, 1)
}

func TestToSDKMessages_ImageBeforeText(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{
			Role:   "user",
			Text:   "what is in this grid?",
			Images: []Image{{Data: []byte{0x89, 0x50, 0x4e, 0x47}}},
		},
	})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.NotNil(t, msgs[0].Content[0].OfImage)
	assert.NotNil(t, msgs[0].Content[1].OfText)
}

func TestToSDKSystemBlocks_CacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks(BuildCachedSystemBlocks("system prompt"))
	require.Len(t, blocks, 1)
	assert.Equal(t, "system prompt", blocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), blocks[0].CacheControl.TTL)
}

func TestEstimateCost_KnownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := usage.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 18.00, cost, 1e-9)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 500, OutputTokens: 500}
	assert.Zero(t, usage.EstimateCost("not-a-model"))
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	usage := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	// write at 1.25x input, read at 0.1x input
	assert.InDelta(t, 0.80*1.25+0.80*0.1, cost, 1e-9)
}

func TestClassifyError_RateLimited(t *testing.T) {
	got := classifyError(&sdk.Error{StatusCode: 429})
	assert.True(t, resilience.IsTransient(got))

	var te *resilience.TransientError
	require.ErrorAs(t, got, &te)
	assert.Equal(t, 429, te.StatusCode)
}

func TestClassifyError_ServerError(t *testing.T) {
	assert.True(t, resilience.IsTransient(classifyError(&sdk.Error{StatusCode: 503})))
}

func TestClassifyError_ClientErrorNotRetryable(t *testing.T) {
	got := classifyError(&sdk.Error{
		StatusCode: 400,
		Request:    &http.Request{Method: "POST", URL: &url.URL{}},
		Response:   &http.Response{StatusCode: 400},
	})
	assert.False(t, resilience.IsTransient(got))
}

func TestClassifyError_PlainError(t *testing.T) {
	base := errors.New("request marshalling failed")
	assert.ErrorIs(t, classifyError(base), base)
	assert.False(t, resilience.IsTransient(classifyError(base)))
}
