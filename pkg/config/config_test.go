package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corerpc/corerpc/pkg/config"
)

func TestRequiresRestartOnDefaultKeys(t *testing.T) {
	c := config.New()
	c.Update(map[string]string{"server.port": "8080"})
	old := map[string]string{"server.port": "9090"}
	assert.True(t, c.RequiresRestart(old))
}

func TestRequiresRestartFalseWhenUnrelatedKeyChanges(t *testing.T) {
	c := config.New()
	c.Update(map[string]string{"server.port": "8080", "auth_secret": "a"})
	old := map[string]string{"server.port": "8080", "auth_secret": "b"}
	assert.False(t, c.RequiresRestart(old))
}

func TestGetAllReturnsIndependentCopy(t *testing.T) {
	c := config.New()
	c.Update(map[string]string{"server.address": ":8080"})
	snapshot := c.GetAll()
	snapshot["server.address"] = "mutated"
	assert.Equal(t, ":8080", c.Get("server.address"))
}
