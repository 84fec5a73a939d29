//go:build bedrock

package bedrock

import (
	"context"
	"net/http"
	"testing"

	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

func responseErr(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      context.DeadlineExceeded,
	}
}

func TestClassifyTransientOnRetryableStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 503} {
		assert.Equal(t, orcherr.KindTransientBackend, classify(responseErr(status)), "status %d should be transient", status)
	}
}

func TestClassifyPermanentOnRejectedRequest(t *testing.T) {
	for _, status := range []int{400, 403, 404} {
		assert.Equal(t, orcherr.KindPermanentBackend, classify(responseErr(status)), "status %d should be permanent", status)
	}
}

func TestClassifyTransientWhenNoResponseError(t *testing.T) {
	assert.Equal(t, orcherr.KindTransientBackend, classify(context.DeadlineExceeded))
}

func TestWrapErrTagsKindAndPreservesCause(t *testing.T) {
	cause := responseErr(429)
	wrapped := wrapErr("bedrock.Generate", cause)

	kind, ok := orcherr.KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, orcherr.KindTransientBackend, kind)
	assert.ErrorIs(t, wrapped, cause)
}
