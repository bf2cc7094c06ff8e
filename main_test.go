package main

import (
	"testing"
	"time"

	"github.com/mbolis/intelliform/config"
	"github.com/stretchr/testify/assert"
)

func TestWriteTimeout(t *testing.T) {
	cfg := config.Config{}
	cfg.AI.Timeout = 30 * time.Second
	// chat and summary, each retried once, all timing out
	assert.Greater(t, writeTimeout(cfg), 4*cfg.AI.Timeout)

	cfg.AI.Timeout = 0
	assert.Zero(t, writeTimeout(cfg))
}
