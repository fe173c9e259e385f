package httperr

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, context.Background(), 403, ErrCodeInvalidToken, "An unknown token is used")

	assert.Equal(t, 403, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decode(t, rr)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidToken, resp.Error.Code)
	assert.Equal(t, "An unknown token is used", resp.Error.Message)
}

func TestHelpers_StatusCodes(t *testing.T) {
	ctx := context.Background()

	rr := httptest.NewRecorder()
	NotFound404(rr, ctx, "Pipeline 'ptest' not found")
	assert.Equal(t, 404, rr.Code)
	assert.Equal(t, ErrCodeNotFound, decode(t, rr).Error.Code)

	rr = httptest.NewRecorder()
	Conflict409(rr, ctx, "Pipeline already exists")
	assert.Equal(t, 409, rr.Code)
	assert.Equal(t, ErrCodeConflict, decode(t, rr).Error.Code)

	rr = httptest.NewRecorder()
	Unprocessable422(rr, ctx, "num_tasks must be a positive integer")
	assert.Equal(t, 422, rr.Code)
	assert.Equal(t, ErrCodeInvalidParameter, decode(t, rr).Error.Code)
}

func TestInternalError500_GenericMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	InternalError500(rr, context.Background())

	assert.Equal(t, 500, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, "Internal Server Error", resp.Error.Message)
}
