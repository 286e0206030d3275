// Copyright (c) 2021 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Eclipse Public License 2.0 which is available at
// http://www.eclipse.org/legal/epl-2.0
//
// SPDX-License-Identifier: EPL-2.0

package flags

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwythaint/device-cloud-go/client"
)

func TestDefaults(t *testing.T) {
	cfg := &AgentConfig{}
	warn := loadConfigFromFile("", cfg)

	assert.Nil(t, warn)
	assert.Equal(t, 1883, cfg.CloudPort)
	assert.Equal(t, ".", cfg.RuntimeDir)
	assert.Equal(t, client.Duration(5*time.Second), cfg.LoopTime)
	assert.Equal(t, client.Duration(15*time.Second), cfg.MessageTimeout)
	assert.Equal(t, 3, cfg.ThreadCount)
	assert.Equal(t, client.Duration(10*time.Second), cfg.TelemetryInterval)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "agent.json")
	content := `{
		"appKey": "dev42",
		"cloudToken": "tok",
		"cloudHost": "cloud.example.com",
		"cloudPort": 8883,
		"loopTime": "2s",
		"telemetryInterval": "30s"
	}`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg := &AgentConfig{}
	warn := loadConfigFromFile(configFile, cfg)

	assert.Nil(t, warn)
	assert.Equal(t, "dev42", cfg.AppKey)
	assert.Equal(t, "cloud.example.com", cfg.CloudHost)
	assert.Equal(t, 8883, cfg.CloudPort)
	assert.Equal(t, client.Duration(2*time.Second), cfg.LoopTime)
	assert.Equal(t, client.Duration(30*time.Second), cfg.TelemetryInterval)

	// unset values keep their defaults
	assert.Equal(t, 3, cfg.ThreadCount)
}

func TestMissingConfigFileWarns(t *testing.T) {
	cfg := &AgentConfig{}
	warn := loadConfigFromFile(filepath.Join(t.TempDir(), "nope.json"), cfg)

	assert.NotNil(t, warn)
	assert.Equal(t, 1883, cfg.CloudPort, "defaults still apply on a missing file")
}

func TestEnvironmentOverlay(t *testing.T) {
	t.Setenv("DC_APP_KEY", "envdev")
	t.Setenv("DC_CLOUD_PORT", "9999")
	t.Setenv("DC_LOOP_TIME", "250ms")
	t.Setenv("DC_LOG_LEVEL", "TRACE")

	cfg := &AgentConfig{}
	loadConfigFromFile("", cfg)
	require.NoError(t, env.Parse(cfg))

	assert.Equal(t, "envdev", cfg.AppKey)
	assert.Equal(t, 9999, cfg.CloudPort)
	assert.Equal(t, client.Duration(250*time.Millisecond), cfg.LoopTime)
	assert.Equal(t, "TRACE", cfg.LogLevel)
}

func TestFlagNameConversion(t *testing.T) {
	assert.Equal(t, "appKey", ToFlagName("AppKey"))
	assert.Equal(t, "AppKey", ToFieldName("appKey"))

	for _, name := range []string{"CloudHost", "TelemetryInterval", "LogFile"} {
		assert.Equal(t, name, ToFieldName(ToFlagName(name)))
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": 1}`), 0644))

	var v map[string]interface{}
	require.NoError(t, LoadJSON(path, &v))
	assert.Equal(t, float64(1), v["a"])

	assert.Error(t, LoadJSON(filepath.Join(t.TempDir(), "missing.json"), &v))
}
