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
	"sync/atomic"
	"testing"
	"time"
)

func TestPeriodicExecutorRuns(t *testing.T) {
	var count int32

	executor := NewPeriodicExecutor(nil, nil, 20*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})
	defer executor.Stop()

	time.Sleep(110 * time.Millisecond)

	got := atomic.LoadInt32(&count)
	if got < 3 {
		t.Errorf("expected at least 3 invocations, got %d", got)
	}
}

func TestPeriodicExecutorStop(t *testing.T) {
	var count int32

	executor := NewPeriodicExecutor(nil, nil, 10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	time.Sleep(35 * time.Millisecond)
	executor.Stop()

	stopped := atomic.LoadInt32(&count)
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&count); got != stopped {
		t.Errorf("executor kept running after stop: %d -> %d", stopped, got)
	}
}

func TestPeriodicExecutorFutureStart(t *testing.T) {
	var count int32

	from := time.Now().Add(60 * time.Millisecond)
	executor := NewPeriodicExecutor(&from, nil, 10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})
	defer executor.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("executor ran before its start time: %d", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got == 0 {
		t.Error("executor never started")
	}
}
