package types

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFail(t *testing.T) {
	status, body := Fail(AreaFleet, http.StatusBadRequest, "Invalid pad codes", "D9")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "FLEET_400", body.Error.Code)
	assert.Equal(t, "Invalid pad codes", body.Error.Message)
	assert.Equal(t, "D9", body.Error.Details)
}
