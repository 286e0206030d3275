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
	"fmt"
	"time"
)

// Publish is an outbound data point queued for batch emission. The queued
// variants are PublishTelemetry, PublishAttribute, PublishAlarm,
// PublishLocation and PublishLog. A zero timestamp is replaced with the
// current time when the value is queued.
type Publish interface {
	// command builds the cloud command and a log description for the data point
	command(thingKey string) (Command, string)
	// stamp fills in the timestamp, if the data point does not carry one
	stamp(now time.Time)
}

// PublishTelemetry is a numeric data point.
type PublishTelemetry struct {
	Name      string
	Value     float64
	Timestamp time.Time
}

func (p *PublishTelemetry) command(thingKey string) (Command, string) {
	cmd := CreatePropertyPublish(thingKey, p.Name, p.Value, p.Timestamp)

	return cmd, fmt.Sprintf("Property Publish %s : %v", p.Name, p.Value)
}

func (p *PublishTelemetry) stamp(now time.Time) {
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
}

// PublishAttribute is a string data point.
type PublishAttribute struct {
	Name      string
	Value     string
	Timestamp time.Time
}

func (p *PublishAttribute) command(thingKey string) (Command, string) {
	cmd := CreateAttributePublish(thingKey, p.Name, p.Value, p.Timestamp)

	return cmd, fmt.Sprintf("Attribute Publish %s : %q", p.Name, p.Value)
}

func (p *PublishAttribute) stamp(now time.Time) {
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
}

// PublishAlarm is an alarm state change, with an optional message.
type PublishAlarm struct {
	Name      string
	State     int
	Message   string
	Timestamp time.Time
}

func (p *PublishAlarm) command(thingKey string) (Command, string) {
	cmd := CreateAlarmPublish(thingKey, p.Name, p.State, p.Message, p.Timestamp)

	return cmd, fmt.Sprintf("Alarm Publish %s : %d", p.Name, p.State)
}

func (p *PublishAlarm) stamp(now time.Time) {
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
}

// PublishLocation is a location fix. All fields besides the coordinates are
// optional.
type PublishLocation struct {
	Latitude  float64
	Longitude float64
	Heading   *float64
	Altitude  *float64
	Speed     *float64
	Accuracy  *float64
	FixType   string
	Timestamp time.Time
}

func (p *PublishLocation) command(thingKey string) (Command, string) {
	cmd := CreateLocationPublish(thingKey, p)

	return cmd, fmt.Sprintf("Location Publish %v, %v", p.Latitude, p.Longitude)
}

func (p *PublishLocation) stamp(now time.Time) {
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
}

// PublishLog is a log line forwarded to the cloud.
type PublishLog struct {
	Message   string
	Timestamp time.Time
}

func (p *PublishLog) command(thingKey string) (Command, string) {
	cmd := CreateLogPublish(thingKey, p.Message, p.Timestamp)

	return cmd, fmt.Sprintf("Log Publish %s", p.Message)
}

func (p *PublishLog) stamp(now time.Time) {
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
}
