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
	"time"

	"github.com/gwythaint/device-cloud-go/logger"
)

// Client connects a device to the cloud. It owns the Handler performing all
// underlying communication and exposes the device-facing operations:
// registering actions, publishing data points and requesting file transfers.
type Client struct {
	cfg     *Config
	handler *Handler
}

// NewClient constructs a Client for the given configuration. The
// configuration must carry the application key and cloud token; host and
// port are checked at connect time.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		logger.Error(err)
		return nil, err
	}

	c := &Client{cfg: cfg}
	c.handler = newHandler(cfg, c)

	for _, line := range cfg.describe() {
		logger.Debugf("config: %s", line)
	}

	return c, nil
}

// Connect establishes the cloud session, waiting up to timeout for the
// connection to be confirmed. A zero timeout waits forever.
func (c *Client) Connect(timeout time.Duration) Status {
	return c.handler.Connect(timeout)
}

// Disconnect shuts the cloud session down. When waitForReplies is set, it
// first waits for outstanding requests to be answered or time out.
func (c *Client) Disconnect(waitForReplies bool, timeout time.Duration) Status {
	return c.handler.Disconnect(waitForReplies, timeout)
}

// IsConnected reports whether the client is connected to the cloud.
func (c *Client) IsConnected() bool {
	return c.handler.IsConnected()
}

// ActionRegisterCallback associates a callback function with an action in
// the cloud. The optional userData is handed back on every invocation.
func (c *Client) ActionRegisterCallback(name string, fn ActionFunc, userData interface{}) Status {
	return c.handler.ActionRegisterCallback(name, fn, userData)
}

// ActionRegisterCommand associates a console command with an action in the
// cloud. Request parameters are interpolated into "{name}" placeholders in
// the argv.
func (c *Client) ActionRegisterCommand(name string, command []string) Status {
	return c.handler.ActionRegisterCommand(name, command)
}

// ActionDeregister disassociates any function or command from an action in
// the cloud.
func (c *Client) ActionDeregister(name string) Status {
	return c.handler.ActionDeregister(name)
}

// Telemetry queues a numeric data point for publishing.
func (c *Client) Telemetry(name string, value float64) Status {
	return c.handler.QueuePublish(&PublishTelemetry{Name: name, Value: value})
}

// Attribute queues a string data point for publishing.
func (c *Client) Attribute(name string, value string) Status {
	return c.handler.QueuePublish(&PublishAttribute{Name: name, Value: value})
}

// Alarm queues an alarm state change for publishing.
func (c *Client) Alarm(name string, state int, message string) Status {
	return c.handler.QueuePublish(&PublishAlarm{Name: name, State: state, Message: message})
}

// Location queues a location fix for publishing.
func (c *Client) Location(loc *PublishLocation) Status {
	return c.handler.QueuePublish(loc)
}

// Log queues a log line for publishing to the cloud.
func (c *Client) Log(message string) Status {
	return c.handler.QueuePublish(&PublishLog{Message: message})
}

// QueuePublish queues an already constructed data point for publishing.
func (c *Client) QueuePublish(pub Publish) Status {
	return c.handler.QueuePublish(pub)
}

// FileDownload requests a cloud-to-device file transfer into the runtime
// download directory.
func (c *Client) FileDownload(fileName string, blocking bool, timeout time.Duration) Status {
	return c.handler.RequestDownload(fileName, blocking, timeout)
}

// FileUpload requests a device-to-cloud transfer of every file in the
// runtime upload directory matching the glob pattern.
func (c *Client) FileUpload(pattern string, blocking bool, timeout time.Duration) Status {
	return c.handler.RequestUpload(pattern, blocking, timeout)
}
