package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"datachat/agent"
	"datachat/database"
)

// TestStatusFor 管道错误分类到 HTTP 状态码的映射
func TestStatusFor(t *testing.T) {
	fail := func(kind agent.Kind) error {
		return agent.Fail("test", kind, fmt.Errorf("boom"))
	}

	assert.Equal(t, http.StatusNotFound, statusFor(database.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(database.ErrSessionArchived))
	assert.Equal(t, http.StatusConflict, statusFor(database.ErrInUse))

	assert.Equal(t, http.StatusBadRequest, statusFor(fail(agent.KindInvalidRequest)))
	assert.Equal(t, http.StatusBadRequest, statusFor(fail(agent.KindModelUnsupported)))
	assert.Equal(t, http.StatusNotFound, statusFor(fail(agent.KindNotFound)))
	assert.Equal(t, http.StatusConflict, statusFor(fail(agent.KindSessionBusy)))
	assert.Equal(t, statusClientClosedRequest, statusFor(fail(agent.KindCancelled)))

	for _, kind := range []agent.Kind{
		agent.KindSqlEmpty, agent.KindSqlNotReadOnly, agent.KindSqlMultiStatement,
		agent.KindLengthExceeded, agent.KindSyntaxError, agent.KindPermissionDenied,
		agent.KindUnknownIdentifier, agent.KindQueryTimeout, agent.KindConnectionLost,
	} {
		assert.Equalf(t, http.StatusUnprocessableEntity, statusFor(fail(kind)), "kind %s", kind)
	}

	assert.Equal(t, http.StatusBadGateway, statusFor(fail(agent.KindModelRejected)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fail(agent.KindModelUnavailable)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fail(agent.KindDataSourceUnreachable)))

	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("plain error")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fail(agent.KindInternal)))
}

func TestCanRetry(t *testing.T) {
	fail := func(kind agent.Kind) error {
		return agent.Fail("test", kind, fmt.Errorf("boom"))
	}

	assert.True(t, canRetry(fail(agent.KindSqlNotReadOnly)))
	assert.True(t, canRetry(fail(agent.KindSyntaxError)))
	assert.True(t, canRetry(fail(agent.KindQueryTimeout)))

	assert.False(t, canRetry(fail(agent.KindCancelled)))
	assert.False(t, canRetry(fail(agent.KindSessionBusy)))
	assert.False(t, canRetry(fail(agent.KindModelUnavailable)))
	assert.False(t, canRetry(fmt.Errorf("plain error")))
}
