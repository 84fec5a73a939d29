package openai

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

func TestClassifyTransientOnRetryableStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 503} {
		err := &openai.APIError{HTTPStatusCode: status, Message: "boom"}
		assert.Equal(t, orcherr.KindTransientBackend, classify(err), "status %d should be transient", status)
	}
}

func TestClassifyPermanentOnRejectedRequest(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404} {
		err := &openai.APIError{HTTPStatusCode: status, Message: "bad request"}
		assert.Equal(t, orcherr.KindPermanentBackend, classify(err), "status %d should be permanent", status)
	}
}

func TestClassifyRequestErrorUsesWrappedStatus(t *testing.T) {
	err := &openai.RequestError{HTTPStatusCode: 502, Err: context.DeadlineExceeded}
	assert.Equal(t, orcherr.KindTransientBackend, classify(err))
}

func TestClassifyTransientWhenNoStatusCode(t *testing.T) {
	assert.Equal(t, orcherr.KindTransientBackend, classify(context.DeadlineExceeded))
}

func TestWrapErrTagsKindAndPreservesCause(t *testing.T) {
	cause := &openai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}
	wrapped := wrapErr("openai.Generate", cause)

	kind, ok := orcherr.KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, orcherr.KindPermanentBackend, kind)
	assert.ErrorIs(t, wrapped, cause)
}
