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
	"strings"
	"time"
)

// OutMessage is a sent command awaiting its reply. Its out ID is
// "<topic#>-<command#>", where topic# is the zero-padded topic number the
// envelope was published on and command# is the one-based index of the
// command within the envelope.
type OutMessage struct {
	Command     Command
	Description string

	// Transfer is set for file.get and file.put requests; the reply handler
	// and the file transfer engine record progress on it.
	Transfer *FileTransfer

	SendTime time.Time
	OutID    string
}

func (m *OutMessage) String() string {
	return m.Description
}

// outTracker maps (topic#, command#) pairs to sent messages awaiting a
// reply. It is not safe for concurrent use; the handler serializes access
// with the lock that also guards the topic counter.
type outTracker struct {
	// topic# -> command# -> message
	pending map[string]map[string]*OutMessage

	// messages that never received a reply, flushed to the log at disconnect
	noReply []*OutMessage
}

func newOutTracker() *outTracker {
	return &outTracker{pending: make(map[string]map[string]*OutMessage)}
}

// add registers a sent message under the topic and command numbers encoded
// in its out ID.
func (t *outTracker) add(msg *OutMessage) error {
	parts := strings.SplitN(msg.OutID, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("malformed out ID %q", msg.OutID)
	}
	topicNum, commandNum := parts[0], parts[1]

	commands, ok := t.pending[topicNum]
	if !ok {
		commands = make(map[string]*OutMessage)
		t.pending[topicNum] = commands
	}
	commands[commandNum] = msg

	return nil
}

// pop removes and returns the message sent under the given topic and command
// numbers.
func (t *outTracker) pop(topicNum, commandNum string) (*OutMessage, error) {
	commands, ok := t.pending[topicNum]
	if !ok {
		return nil, fmt.Errorf("no pending messages for topic %q", topicNum)
	}

	msg, ok := commands[commandNum]
	if !ok {
		return nil, fmt.Errorf("no pending message %s-%s", topicNum, commandNum)
	}

	delete(commands, commandNum)
	if len(commands) == 0 {
		delete(t.pending, topicNum)
	}

	return msg, nil
}

// sweep removes every message older than maxAge and returns the removed
// messages. They are also remembered in the no-reply list for the
// end-of-session report.
func (t *outTracker) sweep(now time.Time, maxAge time.Duration) []*OutMessage {
	var expired []*OutMessage

	for topicNum, commands := range t.pending {
		for commandNum, msg := range commands {
			if now.Sub(msg.SendTime) > maxAge {
				expired = append(expired, msg)
				delete(commands, commandNum)
			}
		}
		if len(commands) == 0 {
			delete(t.pending, topicNum)
		}
	}

	t.noReply = append(t.noReply, expired...)

	return expired
}

// contains reports whether any message is pending under the given topic
// number.
func (t *outTracker) contains(topicNum string) bool {
	_, ok := t.pending[topicNum]

	return ok
}

// len returns the number of pending messages across all topics.
func (t *outTracker) len() int {
	n := 0
	for _, commands := range t.pending {
		n += len(commands)
	}

	return n
}
