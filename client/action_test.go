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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbacksAddRemove(t *testing.T) {
	registry := newCallbacks()

	noop := func(*ActionContext) ActionResult { return ActionResult{} }

	require.NoError(t, registry.add(&Action{Name: "reboot", Callback: noop}))
	assert.Error(t, registry.add(&Action{Name: "reboot", Callback: noop}), "duplicate registration must fail")

	require.NoError(t, registry.remove("reboot"))
	assert.Error(t, registry.remove("reboot"), "removing an absent action must fail")

	// registration after deregistration starts from a clean slate
	require.NoError(t, registry.add(&Action{Name: "reboot", Callback: noop}))
	assert.NotNil(t, registry.get("reboot"))
	assert.Nil(t, registry.get("shutdown"))
}

func TestActionExecuteCallback(t *testing.T) {
	var got *ActionContext

	action := &Action{
		Name:     "echo",
		UserData: "extra",
		Callback: func(ctx *ActionContext) ActionResult {
			got = ctx
			return ActionResult{Status: StatusSuccess, Message: "ok", Params: map[string]interface{}{"r": 1}}
		},
	}

	request := &ActionRequest{RequestID: "m1", Name: "echo", Params: map[string]interface{}{"a": "b"}}
	result := action.execute(request)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "ok", result.Message)
	assert.Equal(t, map[string]interface{}{"r": 1}, result.Params)

	require.NotNil(t, got)
	assert.Equal(t, request, got.Request)
	assert.Equal(t, request.Params, got.Params)
	assert.Equal(t, "extra", got.UserData)
}

func TestActionExecutePanic(t *testing.T) {
	action := &Action{
		Name:     "explode",
		Callback: func(*ActionContext) ActionResult { panic("boom") },
	}

	result := action.execute(&ActionRequest{RequestID: "m1", Name: "explode"})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Contains(t, result.Message, "boom")
}

func TestActionExecuteCommand(t *testing.T) {
	action := &Action{Name: "exit", Command: []string{"sh", "-c", "exit {code}"}}

	result := action.execute(&ActionRequest{Name: "exit", Params: map[string]interface{}{"code": 0}})
	assert.Equal(t, StatusSuccess, result.Status)

	result = action.execute(&ActionRequest{Name: "exit", Params: map[string]interface{}{"code": 3}})
	assert.Equal(t, StatusExecutionError, result.Status)
	assert.NotEmpty(t, result.Message)
}

func TestActionExecuteCommandStderr(t *testing.T) {
	action := &Action{Name: "fail", Command: []string{"sh", "-c", "echo bad news >&2; exit 1"}}

	result := action.execute(&ActionRequest{Name: "fail"})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Equal(t, "bad news", result.Message)
}

func TestInterpolateParams(t *testing.T) {
	params := map[string]interface{}{"file": "a.bin", "count": 3}

	assert.Equal(t, "get a.bin x3", interpolateParams("get {file} x{count}", params))
	assert.Equal(t, "plain", interpolateParams("plain", params))
	assert.Equal(t, "{missing}", interpolateParams("{missing}", params))
}
