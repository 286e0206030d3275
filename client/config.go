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

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Configuration defaults
const (
	DefaultLoopTime       = Duration(5 * time.Second)
	DefaultMessageTimeout = Duration(15 * time.Second)
	DefaultThreadCount    = 3
)

// Config holds the connection settings for a Client. It is treated as
// immutable once Connect has been called.
type Config struct {
	AppKey     string `json:"appKey,omitempty" env:"DC_APP_KEY" descr:"Application key identifying this device. Used as MQTT client ID and username"`
	CloudToken string `json:"cloudToken,omitempty" env:"DC_CLOUD_TOKEN" descr:"Token used as MQTT password"`
	CloudHost  string `json:"cloudHost,omitempty" env:"DC_CLOUD_HOST" descr:"Cloud host name"`
	CloudPort  int    `json:"cloudPort,omitempty" env:"DC_CLOUD_PORT" def:"1883" descr:"Cloud MQTT port"`

	CABundleFile string `json:"caBundleFile,omitempty" env:"DC_CA_BUNDLE_FILE" descr:"A PEM encoded certificate authority bundle. When set, MQTT and file transfers use TLS and verify against the bundle"`

	RuntimeDir string `json:"runtimeDir,omitempty" env:"DC_RUNTIME_DIR" def:"." descr:"Runtime directory containing the 'upload' and 'download' subdirectories"`

	LoopTime       Duration `json:"loopTime,omitempty" env:"DC_LOOP_TIME" def:"5s" descr:"Period of the transport loop. Should be a sequence of decimal numbers with a unit suffix, such as '300ms', '10s' or '1m'"`
	MessageTimeout Duration `json:"messageTimeout,omitempty" env:"DC_MESSAGE_TIMEOUT" def:"15s" descr:"Time to wait for a reply to a sent command before it is reported as timed out"`
	ThreadCount    int      `json:"threadCount,omitempty" env:"DC_THREAD_COUNT" def:"3" descr:"Number of workers executing actions, publishes and file transfers"`
}

// Validate checks that the configuration is complete enough to construct a
// client. Host and port are checked later, at connect time.
func (cfg *Config) Validate() error {
	if cfg.AppKey == "" || cfg.CloudToken == "" {
		return errors.New("missing app key or cloud token from configuration")
	}

	if cfg.ThreadCount < 1 {
		return errors.New("thread count must be at least 1")
	}

	return nil
}

// describe lists the configuration for debug logging, without the token.
func (cfg *Config) describe() []string {
	return []string{
		"appKey " + cfg.AppKey,
		"cloudHost " + cfg.CloudHost,
		fmt.Sprintf("cloudPort %d", cfg.CloudPort),
		"caBundleFile " + cfg.CABundleFile,
		"runtimeDir " + cfg.RuntimeDir,
		"loopTime " + cfg.LoopTime.String(),
		"messageTimeout " + cfg.MessageTimeout.String(),
		fmt.Sprintf("threadCount %d", cfg.ThreadCount),
	}
}

func (cfg *Config) loopTime() time.Duration {
	if cfg.LoopTime <= 0 {
		return time.Duration(DefaultLoopTime)
	}

	return time.Duration(cfg.LoopTime)
}

func (cfg *Config) messageTimeout() time.Duration {
	if cfg.MessageTimeout <= 0 {
		return time.Duration(DefaultMessageTimeout)
	}

	return time.Duration(cfg.MessageTimeout)
}

// Duration wraps time.Duration to add JSON and flag.Value support using the
// standard duration syntax ('300ms', '10s', '1m30s').
type Duration time.Duration

// Set parses a duration string, used for flag set
func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a duration from text, used for environment overlay
func (d *Duration) UnmarshalText(b []byte) error {
	return d.Set(string(b))
}

// UnmarshalJSON un-marshals Duration from a JSON string
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	return d.Set(s)
}

// MarshalJSON marshals Duration as a JSON string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
