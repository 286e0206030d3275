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
	"fmt"
	"strconv"
	"time"
)

// TimeFormat is the timestamp layout accepted by the cloud (UTC, second
// resolution).
const TimeFormat = "2006-01-02T15:04:05Z"

// Command names understood by the cloud
const (
	CommandPropertyPublish  = "property.publish"
	CommandAttributePublish = "attribute.publish"
	CommandAlarmPublish     = "alarm.publish"
	CommandLocationPublish  = "location.publish"
	CommandLogPublish       = "log.publish"
	CommandFileGet          = "file.get"
	CommandFilePut          = "file.put"
	CommandMailboxCheck     = "mailbox.check"
	CommandMailboxAck       = "mailbox.ack"
)

// Command is a single request to the cloud. One or more commands are grouped
// into an envelope keyed by their one-based index and published on an
// "api/<topic#>" topic.
type Command struct {
	Name   string                 `json:"command"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// CommandReply is the cloud's per-command entry in a "reply/<topic#>"
// envelope, keyed by the same index the command was sent with.
type CommandReply struct {
	Success bool                   `json:"success"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Errors  []string               `json:"errorMessages,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}

	return t.UTC().Format(TimeFormat)
}

// CreatePropertyPublish builds a command publishing a numeric data point.
func CreatePropertyPublish(thingKey string, key string, value float64, ts time.Time) Command {
	return Command{CommandPropertyPublish, map[string]interface{}{
		"thingKey": thingKey,
		"key":      key,
		"value":    value,
		"ts":       formatTimestamp(ts),
	}}
}

// CreateAttributePublish builds a command publishing a string attribute.
func CreateAttributePublish(thingKey string, key string, value string, ts time.Time) Command {
	return Command{CommandAttributePublish, map[string]interface{}{
		"thingKey": thingKey,
		"key":      key,
		"value":    value,
		"ts":       formatTimestamp(ts),
	}}
}

// CreateAlarmPublish builds a command publishing an alarm state change.
// The message is optional and omitted when empty.
func CreateAlarmPublish(thingKey string, key string, state int, message string, ts time.Time) Command {
	params := map[string]interface{}{
		"thingKey": thingKey,
		"key":      key,
		"state":    state,
		"ts":       formatTimestamp(ts),
	}
	if message != "" {
		params["msg"] = message
	}

	return Command{CommandAlarmPublish, params}
}

// CreateLocationPublish builds a command publishing a location fix. All
// fields of loc besides the coordinates are optional.
func CreateLocationPublish(thingKey string, loc *PublishLocation) Command {
	params := map[string]interface{}{
		"thingKey": thingKey,
		"lat":      loc.Latitude,
		"lng":      loc.Longitude,
		"ts":       formatTimestamp(loc.Timestamp),
	}
	if loc.Heading != nil {
		params["heading"] = *loc.Heading
	}
	if loc.Altitude != nil {
		params["altitude"] = *loc.Altitude
	}
	if loc.Speed != nil {
		params["speed"] = *loc.Speed
	}
	if loc.Accuracy != nil {
		params["fixAcc"] = *loc.Accuracy
	}
	if loc.FixType != "" {
		params["fixType"] = loc.FixType
	}

	return Command{CommandLocationPublish, params}
}

// CreateLogPublish builds a command publishing a log line to the cloud.
func CreateLogPublish(thingKey string, message string, ts time.Time) Command {
	return Command{CommandLogPublish, map[string]interface{}{
		"thingKey": thingKey,
		"msg":      message,
		"ts":       formatTimestamp(ts),
	}}
}

// CreateFileGet builds a command requesting a cloud-to-device file transfer.
// The reply carries the file ID and CRC32 checksum of the file.
func CreateFileGet(thingKey string, fileName string) Command {
	return Command{CommandFileGet, map[string]interface{}{
		"thingKey": thingKey,
		"fileName": fileName,
	}}
}

// CreateFilePut builds a command requesting a device-to-cloud file transfer.
// The reply carries the file ID to upload to.
func CreateFilePut(thingKey string, fileName string) Command {
	return Command{CommandFilePut, map[string]interface{}{
		"thingKey": thingKey,
		"fileName": fileName,
	}}
}

// CreateMailboxCheck builds a command retrieving pending mailbox messages.
func CreateMailboxCheck(autoComplete bool) Command {
	return Command{CommandMailboxCheck, map[string]interface{}{
		"autoComplete": autoComplete,
	}}
}

// CreateMailboxAck builds a command acknowledging execution of a mailbox
// message. Error message and params are optional.
func CreateMailboxAck(mailID string, errorCode int, errorMessage string, params map[string]interface{}) Command {
	ack := map[string]interface{}{
		"id":        mailID,
		"errorCode": errorCode,
	}
	if errorMessage != "" {
		ack["errorMessage"] = errorMessage
	}
	if params != nil {
		ack["params"] = params
	}

	return Command{CommandMailboxAck, ack}
}

// GenerateRequest serializes the given commands into one request envelope.
// Command indices are dense and start at "1".
func GenerateRequest(commands []Command) ([]byte, error) {
	envelope := make(map[string]Command, len(commands))
	for i, cmd := range commands {
		envelope[strconv.Itoa(i+1)] = cmd
	}

	return json.Marshal(envelope)
}

// ParseRequest deserializes a request envelope produced by GenerateRequest.
func ParseRequest(payload []byte) (map[string]Command, error) {
	envelope := make(map[string]Command)
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("malformed request envelope: %w", err)
	}

	return envelope, nil
}

// ParseReply deserializes a reply envelope, keyed by command index.
func ParseReply(payload []byte) (map[string]CommandReply, error) {
	envelope := make(map[string]CommandReply)
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("malformed reply envelope: %w", err)
	}

	return envelope, nil
}

// TranslateErrorCode maps a status code to its wire-level error code.
// Success is 0 on the wire, all other statuses map to distinct negative
// codes. TranslateWireCode is its inverse.
func TranslateErrorCode(s Status) int {
	if s == StatusSuccess {
		return 0
	}

	return -int(s)
}

// TranslateWireCode maps a wire-level error code back to a status code.
func TranslateWireCode(code int) Status {
	if code == 0 {
		return StatusSuccess
	}

	return Status(-code)
}
