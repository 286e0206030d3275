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
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// ActionRequest is a cloud request to execute a registered action, delivered
// through the device mailbox.
type ActionRequest struct {
	RequestID string
	Name      string
	Params    map[string]interface{}
}

// ActionResult is the outcome of an action execution, acknowledged back to
// the cloud. Message and Params are optional.
type ActionResult struct {
	Status  Status
	Message string
	Params  map[string]interface{}
}

// ActionContext carries the invocation context of an action callback.
type ActionContext struct {
	// Client is the client the action was registered on.
	Client *Client
	// Params are the request parameters sent by the cloud.
	Params map[string]interface{}
	// UserData is the value supplied at registration time.
	UserData interface{}
	// Request is the full mailbox request.
	Request *ActionRequest
}

// ActionFunc is the callback signature for registered actions.
type ActionFunc func(ctx *ActionContext) ActionResult

// Action binds an action name to either a callback function or a console
// command. Exactly one of Callback and Command is set.
type Action struct {
	Name     string
	Callback ActionFunc
	Command  []string
	UserData interface{}

	// client is a non-owning handle used only to dispatch into callbacks
	client *Client
}

func (a *Action) String() string {
	if a.Callback != nil {
		return fmt.Sprintf("%s (callback)", a.Name)
	}

	return fmt.Sprintf("%s (command: %s)", a.Name, strings.Join(a.Command, " "))
}

// callbacks associates action names with registered actions. Structural
// mutation is serialized by the handler lock; execution runs outside it.
type callbacks struct {
	actions map[string]*Action
}

func newCallbacks() *callbacks {
	return &callbacks{actions: make(map[string]*Action)}
}

func (c *callbacks) add(action *Action) error {
	if _, ok := c.actions[action.Name]; ok {
		return fmt.Errorf("action %q already registered", action.Name)
	}

	c.actions[action.Name] = action

	return nil
}

func (c *callbacks) remove(name string) error {
	if _, ok := c.actions[name]; !ok {
		return fmt.Errorf("action %q not registered", name)
	}

	delete(c.actions, name)

	return nil
}

func (c *callbacks) get(name string) *Action {
	return c.actions[name]
}

// execute runs the action for the given request. A panicking callback is
// reported as StatusExecutionError with the panic value in the message.
func (action *Action) execute(request *ActionRequest) (result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ActionResult{
				Status:  StatusExecutionError,
				Message: fmt.Sprintf("ERROR: %v", r),
			}
		}
	}()

	if action.Callback != nil {
		ctx := &ActionContext{
			Client:   action.client,
			Params:   request.Params,
			UserData: action.UserData,
			Request:  request,
		}

		return action.Callback(ctx)
	}

	return runCommand(action, request)
}

// runCommand executes a console command action. Request parameters are
// interpolated into "{name}" placeholders in the configured argv. Exit code
// zero maps to StatusSuccess, anything else to StatusExecutionError with the
// captured stderr as message.
func runCommand(action *Action, request *ActionRequest) ActionResult {
	if len(action.Command) == 0 {
		return ActionResult{Status: StatusNotExecutable, Message: "no command configured"}
	}

	argv := make([]string, len(action.Command))
	for i, arg := range action.Command {
		argv[i] = interpolateParams(arg, request.Params)
	}

	cmd := exec.Command(argv[0], argv[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}

		return ActionResult{Status: StatusExecutionError, Message: message}
	}

	return ActionResult{Status: StatusSuccess}
}

func interpolateParams(arg string, params map[string]interface{}) string {
	for key, value := range params {
		arg = strings.ReplaceAll(arg, "{"+key+"}", fmt.Sprint(value))
	}

	return arg
}
