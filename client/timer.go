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
	"sync"
	"time"
)

// PeriodicExecutor invokes a task on a fixed period, optionally restricted
// to a [from, to) time window. Applications use it to sample and publish
// telemetry on an interval.
type PeriodicExecutor struct {
	period time.Duration
	task   func()

	fromTimer *time.Timer
	toTimer   *time.Timer

	ticker *time.Ticker
	mutex  sync.Mutex
	done   chan bool
}

// NewPeriodicExecutor constructs an executor invoking task at the given
// period. Execution starts when from is reached, or immediately when from
// is nil or in the past. It ends when to is reached; a nil to keeps the
// executor running until Stop.
func NewPeriodicExecutor(from *time.Time, to *time.Time, period time.Duration, task func()) *PeriodicExecutor {
	e := &PeriodicExecutor{period: period, task: task}

	if from != nil {
		e.fromTimer = time.AfterFunc(time.Until(*from), e.startTicker)
	} else {
		e.startTicker()
	}

	if to != nil {
		e.toTimer = time.AfterFunc(time.Until(*to), e.stopTicker)
	}

	return e
}

func (e *PeriodicExecutor) startTicker() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.done = make(chan bool)
	e.ticker = time.NewTicker(e.period)

	go func() {
		e.task() // invoke at the start of the period

		defer func() {
			e.mutex.Lock()
			defer e.mutex.Unlock()

			e.ticker = nil
		}()

		for {
			select {
			case <-e.done:
				return
			case <-e.ticker.C:
				e.task()
			}
		}
	}()
}

func (e *PeriodicExecutor) stopTicker() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.ticker != nil {
		e.done <- true
	}
}

// Stop ends periodic execution and releases used resources.
func (e *PeriodicExecutor) Stop() {
	e.stopTicker()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.fromTimer != nil {
		e.fromTimer.Stop()
		e.fromTimer = nil
	}

	if e.toTimer != nil {
		e.toTimer.Stop()
		e.toTimer = nil
	}
}
