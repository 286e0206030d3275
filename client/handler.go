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
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/gwythaint/device-cloud-go/logger"
)

// State is the connection state of the client.
type State int

// Connection states
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

const mqttKeepAlive = 60 * time.Second

// newMQTTClient creates the MQTT session for a handler. Tests replace it
// with a fake.
var newMQTTClient = func(opts *MQTT.ClientOptions) MQTT.Client {
	return MQTT.NewClient(opts)
}

// inboundMessage is a received MQTT message queued for decoding by a worker.
type inboundMessage struct {
	topic   string
	payload []byte
}

// Handler owns the MQTT session and all the machinery behind a Client: the
// transport loop, the worker pool, the reply tracker and the publish and
// work queues. Client owns the Handler; the handler's client reference is a
// non-owning handle used only to dispatch into user callbacks.
type Handler struct {
	cfg    *Config
	client *Client

	mqtt       MQTT.Client
	httpClient *http.Client

	// lock guards the reply tracker, the topic counter and structural
	// changes to the callback registry. It is held across topic allocation,
	// publish and tracker insert, so a reply can never race an incomplete
	// registration. It is never held across work handlers or network I/O
	// outside of the MQTT publish call.
	lock           sync.Mutex
	tracker        *outTracker
	topicCounter   int
	callbacks      *callbacks
	trackerChanged chan struct{}

	stateMu      sync.Mutex
	state        State
	stateChanged chan struct{}

	publishQueue *fifo
	workQueue    *fifo

	workers sync.WaitGroup
	loop    sync.WaitGroup
}

func newHandler(cfg *Config, client *Client) *Handler {
	return &Handler{
		cfg:            cfg,
		client:         client,
		httpClient:     http.DefaultClient,
		tracker:        newOutTracker(),
		topicCounter:   1,
		callbacks:      newCallbacks(),
		trackerChanged: make(chan struct{}),
		stateChanged:   make(chan struct{}),
		publishQueue:   newFIFO(),
		workQueue:      newFIFO(),
	}
}

//******* Lifecycle *******//

// State returns the current connection state.
func (h *Handler) State() State {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	return h.state
}

// IsConnected reports whether the client is connected to the cloud.
func (h *Handler) IsConnected() bool {
	return h.State() == StateConnected
}

func (h *Handler) setState(s State) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if h.state == s {
		return
	}

	h.state = s
	close(h.stateChanged)
	h.stateChanged = make(chan struct{})
}

// compareAndSetState transitions between the given states, reporting
// whether the transition happened. Invalid transitions are simply not taken.
func (h *Handler) compareAndSetState(from, to State) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if h.state != from {
		return false
	}

	h.state = to
	close(h.stateChanged)
	h.stateChanged = make(chan struct{})

	return true
}

func (h *Handler) stateChangeChan() <-chan struct{} {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	return h.stateChanged
}

// waitWhileState waits until the state leaves s or the deadline passes.
// A zero deadline waits forever. It reports whether the state changed. The
// broadcast channel is captured under the state lock, so a transition can
// never slip between the check and the wait.
func (h *Handler) waitWhileState(s State, deadline time.Time) bool {
	for {
		h.stateMu.Lock()
		if h.state != s {
			h.stateMu.Unlock()
			return true
		}
		changed := h.stateChanged
		h.stateMu.Unlock()

		if deadline.IsZero() {
			<-changed
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return false
		}
	}
}

// Connect establishes the MQTT session and starts the transport loop. It
// waits up to timeout for the cloud to confirm the connection; zero waits
// forever.
func (h *Handler) Connect(timeout time.Duration) Status {
	if h.cfg.CloudHost == "" || h.cfg.CloudPort == 0 {
		logger.Error("missing host or port from configuration")
		return StatusBadParameter
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	h.setState(StateConnecting)

	opts := MQTT.NewClientOptions().
		AddBroker(h.brokerURL()).
		SetClientID(h.cfg.AppKey).
		SetUsername(h.cfg.AppKey).
		SetPassword(h.cfg.CloudToken).
		SetKeepAlive(mqttKeepAlive).
		SetAutoReconnect(false).
		SetDefaultPublishHandler(h.onMessage).
		SetOnConnectHandler(h.onConnect).
		SetConnectionLostHandler(h.onConnectionLost)

	if h.cfg.CABundleFile != "" {
		tlsConfig, err := h.tlsConfig()
		if err != nil {
			logger.Errorf("failed to load CA bundle: %v", err)
			h.setState(StateDisconnected)
			return StatusFailure
		}

		opts.SetTLSConfig(tlsConfig)
		h.httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}

	h.mqtt = newMQTTClient(opts)

	logger.Info("connecting...")
	token := h.mqtt.Connect()

	h.loop.Add(1)
	go h.mainLoop()

	// a refused connection ends the connecting state early
	go func() {
		if token.Wait(); token.Error() != nil {
			logger.Errorf("MQTT connect failed: %v", token.Error())
			h.compareAndSetState(StateConnecting, StateDisconnected)
		}
	}()

	h.waitWhileState(StateConnecting, deadline)

	if h.State() == StateConnected {
		return StatusSuccess
	}

	status := StatusFailure
	if h.State() == StateConnecting {
		logger.Error("connection timed out")
		status = StatusTimedOut
	}

	logger.Error("failed to connect")
	h.setState(StateDisconnected)
	h.loop.Wait()

	return status
}

// Disconnect shuts the session down. When waitForReplies is set, it first
// waits for the reply tracker to empty; timed-out requests are removed by
// the sweep, so the wait always ends. A zero timeout waits forever.
func (h *Handler) Disconnect(waitForReplies bool, timeout time.Duration) Status {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if waitForReplies {
		logger.Info("waiting for replies...")
		h.waitTrackerEmpty(deadline)
	}

	logger.Info("disconnecting...")
	if h.mqtt != nil {
		h.mqtt.Disconnect(250)
	}

	// let the workers drain pending work before stopping them
	if h.IsConnected() {
		h.workQueue.WaitEmpty(deadline)
	}

	h.setState(StateDisconnected)
	h.workers.Wait()
	h.loop.Wait()

	return StatusSuccess
}

func (h *Handler) brokerURL() string {
	scheme := "tcp"
	if h.cfg.CABundleFile != "" {
		scheme = "ssl"
	}

	return fmt.Sprintf("%s://%s:%d", scheme, h.cfg.CloudHost, h.cfg.CloudPort)
}

func (h *Handler) tlsConfig() (*tls.Config, error) {
	bundle, err := os.ReadFile(h.cfg.CABundleFile)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(bundle) {
		return nil, fmt.Errorf("no certificates found in %q", h.cfg.CABundleFile)
	}

	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

//******* MQTT callbacks *******//

func (h *Handler) onConnect(MQTT.Client) {
	logger.Info("MQTT connected")

	if !h.compareAndSetState(StateConnecting, StateConnected) {
		return
	}

	for i := 0; i < h.cfg.ThreadCount; i++ {
		h.workers.Add(1)
		go h.workerLoop()
	}
}

func (h *Handler) onConnectionLost(_ MQTT.Client, err error) {
	logger.Infof("MQTT disconnected: %v", err)

	h.setState(StateDisconnected)
	h.workers.Wait()
}

func (h *Handler) onMessage(_ MQTT.Client, msg MQTT.Message) {
	logger.Debugf("received message on topic %q", msg.Topic())
	logger.Debugf(".... %s", msg.Payload())

	payload := msg.Payload()
	if len(payload) > 0 && !json.Valid(payload) {
		logger.Errorf("failed to parse message on topic %q", msg.Topic())
		return
	}

	// decoding happens on a worker, not on the MQTT read loop
	h.queueWork(&work{workMessage, &inboundMessage{msg.Topic(), payload}})
}

//******* Transport loop *******//

// mainLoop drives the periodic duties of the session: sweeping the reply
// tracker for timeouts and turning pending publishes into work items. It
// runs while the session is connecting or connected, and reports the
// messages that never received a reply when it exits.
func (h *Handler) mainLoop() {
	defer h.loop.Done()

	ticker := time.NewTicker(h.cfg.loopTime())
	defer ticker.Stop()

	for {
		if s := h.State(); s != StateConnecting && s != StateConnected {
			break
		}

		select {
		case <-ticker.C:
			h.sweepTimeouts()

			if !h.publishQueue.Empty() {
				h.queueWork(&work{kind: workPublish})
			}
		case <-h.stateChangeChan():
			// re-check the state promptly
		}
	}

	h.lock.Lock()
	noReply := h.tracker.noReply
	h.lock.Unlock()

	if len(noReply) > 0 {
		logger.Error("these messages never received a reply:")
		for _, msg := range noReply {
			logger.Errorf(".... %s - %s", msg.OutID, msg.Description)
		}
	}
}

func (h *Handler) sweepTimeouts() {
	h.lock.Lock()
	expired := h.tracker.sweep(time.Now().UTC(), h.cfg.messageTimeout())
	if len(expired) > 0 {
		h.broadcastTrackerLocked()
	}
	h.lock.Unlock()

	if len(expired) > 0 {
		logger.Error("message(s) timed out:")
		for _, msg := range expired {
			logger.Errorf(".... %s", msg.Description)
		}
	}
}

func (h *Handler) broadcastTrackerLocked() {
	close(h.trackerChanged)
	h.trackerChanged = make(chan struct{})
}

// waitTrackerEmpty waits until no sent message is awaiting a reply. A zero
// deadline waits forever.
func (h *Handler) waitTrackerEmpty(deadline time.Time) bool {
	for {
		h.lock.Lock()
		pending := h.tracker.len()
		changed := h.trackerChanged
		h.lock.Unlock()

		if pending == 0 {
			return true
		}

		if deadline.IsZero() {
			<-changed
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return false
		}
	}
}

//******* Worker pool *******//

func (h *Handler) workerLoop() {
	defer h.workers.Done()

	for h.IsConnected() {
		item, ok := h.workQueue.Take(h.cfg.loopTime())
		if !ok {
			continue
		}

		h.handleWork(item.(*work))
	}
}

// handleWork dispatches one work item. Panics are logged and swallowed so a
// misbehaving handler cannot kill the worker.
func (h *Handler) handleWork(w *work) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("work handler panic: %v", r)
		}
	}()

	switch w.kind {
	case workMessage:
		h.handleMessage(w.data.(*inboundMessage))
	case workPublish:
		h.handlePublish()
	case workAction:
		h.handleAction(w.data.(*ActionRequest))
	case workDownload:
		h.handleFileDownload(w.data.(*FileTransfer))
	case workUpload:
		h.handleFileUpload(w.data.(*FileTransfer))
	}
}

func (h *Handler) queueWork(w *work) Status {
	h.workQueue.Put(w)

	return StatusSuccess
}

//******* Inbound messages *******//

func (h *Handler) handleMessage(msg *inboundMessage) Status {
	switch {
	case strings.HasPrefix(msg.topic, "notify/"):
		if strings.TrimPrefix(msg.topic, "notify/") == "mailbox_activity" {
			logger.Info("received notification of mailbox activity")
			h.Send(&OutMessage{Command: CreateMailboxCheck(false), Description: "Mailbox Check"})
			return StatusSuccess
		}

	case strings.HasPrefix(msg.topic, "reply/"):
		topicNum := strings.TrimPrefix(msg.topic, "reply/")

		replies, err := ParseReply(msg.payload)
		if err != nil {
			logger.Errorf("failed to parse reply on topic %q: %v", msg.topic, err)
			return StatusParseError
		}

		for commandNum, reply := range replies {
			h.handleReply(topicNum, commandNum, reply)
		}

		return StatusSuccess
	}

	return StatusNotSupported
}

// handleReply correlates one reply entry with the sent message it answers
// and follows up based on the original command type.
func (h *Handler) handleReply(topicNum, commandNum string, reply CommandReply) {
	h.lock.Lock()
	sent, err := h.tracker.pop(topicNum, commandNum)
	if err == nil {
		h.broadcastTrackerLocked()
	}
	h.lock.Unlock()

	if err != nil {
		logger.Errorf("received reply with no matching request: %v", err)
		return
	}

	if reply.Success {
		logger.Infof("received success for %s-%s - %s", topicNum, commandNum, sent)
	} else {
		logger.Errorf("received failure for %s-%s - %s", topicNum, commandNum, sent)
		logger.Errorf(".... %+v", reply)
	}

	switch sent.Command.Name {
	case CommandFileGet:
		if !reply.Success {
			sent.Transfer.setStatus(StatusFailure)
			return
		}

		sent.Transfer.FileID, _ = reply.Params["fileId"].(string)
		if crc, ok := reply.Params["crc32"].(float64); ok {
			sent.Transfer.Checksum = uint32(int64(crc))
		}
		h.queueWork(&work{workDownload, sent.Transfer})

	case CommandFilePut:
		if !reply.Success {
			sent.Transfer.setStatus(StatusFailure)
			return
		}

		sent.Transfer.FileID, _ = reply.Params["fileId"].(string)
		sent.Transfer.Options = stringOptions(reply.Params)
		h.queueWork(&work{workUpload, sent.Transfer})

	case CommandMailboxCheck:
		if !reply.Success {
			return
		}

		mails, _ := reply.Params["messages"].([]interface{})
		for _, m := range mails {
			mail, ok := m.(map[string]interface{})
			if !ok || mail["command"] != "method.exec" {
				continue
			}

			request := &ActionRequest{}
			request.RequestID, _ = mail["id"].(string)
			if params, ok := mail["params"].(map[string]interface{}); ok {
				request.Name, _ = params["method"].(string)
				request.Params, _ = params["params"].(map[string]interface{})
			}

			h.queueWork(&work{workAction, request})
		}
	}
}

// stringOptions extracts the string-valued entries of reply params. They
// carry optional storage-provider directions for uploads.
func stringOptions(params map[string]interface{}) map[string]string {
	options := make(map[string]string)
	for key, value := range params {
		if s, ok := value.(string); ok {
			options[key] = s
		}
	}

	return options
}

//******* Publishing *******//

// QueuePublish places a data point in the publish queue. It is accepted in
// any connection state; queued values are drained on the next connected
// session.
func (h *Handler) QueuePublish(pub Publish) Status {
	pub.stamp(time.Now().UTC())
	h.publishQueue.Put(pub)

	return StatusSuccess
}

// handlePublish drains the publish queue into a single envelope. Only the
// values in-queue at drain time are included; enqueue order is preserved.
func (h *Handler) handlePublish() Status {
	var messages []*OutMessage

	for {
		v, ok := h.publishQueue.TryTake()
		if !ok {
			break
		}

		cmd, description := v.(Publish).command(h.cfg.AppKey)
		messages = append(messages, &OutMessage{Command: cmd, Description: description})
	}

	if len(messages) == 0 {
		return StatusSuccess
	}

	return h.Send(messages...)
}

//******* Actions *******//

// handleAction executes an action requested through the mailbox and
// acknowledges the result to the cloud.
func (h *Handler) handleAction(request *ActionRequest) Status {
	h.lock.Lock()
	action := h.callbacks.get(request.Name)
	h.lock.Unlock()

	var result ActionResult
	if action == nil {
		logger.Errorf("action %s execution failed: not registered", request.Name)
		result = ActionResult{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("ERROR: action %q is not registered", request.Name),
		}
	} else {
		result = action.execute(request)
	}

	if !IsValidStatus(result.Status) {
		logger.Errorf("invalid return status: %d", result.Status)
		result = ActionResult{
			Status:  StatusBadParameter,
			Message: fmt.Sprintf("ERROR: invalid return status: %d", result.Status),
		}
	}

	ack := CreateMailboxAck(request.RequestID, TranslateErrorCode(result.Status), result.Message, result.Params)

	description := fmt.Sprintf("Action Complete %q result : %d(%s)", request.Name, result.Status, result.Status)
	if result.Message != "" {
		description += fmt.Sprintf(" %q", result.Message)
	}
	if result.Params != nil {
		description += fmt.Sprintf(" %v", result.Params)
	}

	return h.Send(&OutMessage{Command: ack, Description: description})
}

//******* Action registry façade *******//

// ActionRegisterCallback associates a callback function with an action name.
func (h *Handler) ActionRegisterCallback(name string, fn ActionFunc, userData interface{}) Status {
	h.lock.Lock()
	defer h.lock.Unlock()

	action := &Action{Name: name, Callback: fn, UserData: userData, client: h.client}
	if err := h.callbacks.add(action); err != nil {
		logger.Errorf("failed to register action: %v", err)
		return StatusExists
	}

	logger.Infof("registered action %q with callback", name)

	return StatusSuccess
}

// ActionRegisterCommand associates a console command with an action name.
func (h *Handler) ActionRegisterCommand(name string, command []string) Status {
	h.lock.Lock()
	defer h.lock.Unlock()

	action := &Action{Name: name, Command: command, client: h.client}
	if err := h.callbacks.add(action); err != nil {
		logger.Errorf("failed to register action: %v", err)
		return StatusExists
	}

	logger.Infof("registered action %q with command %q", name, strings.Join(command, " "))

	return StatusSuccess
}

// ActionDeregister disassociates whatever is registered under the action
// name.
func (h *Handler) ActionDeregister(name string) Status {
	h.lock.Lock()
	defer h.lock.Unlock()

	if err := h.callbacks.remove(name); err != nil {
		logger.Error(err)
		return StatusNotFound
	}

	return StatusSuccess
}

//******* File transfer requests *******//

// RequestDownload asks the cloud for a file. When blocking is set, it waits
// until the transfer reaches a final status or the timeout passes.
func (h *Handler) RequestDownload(fileName string, blocking bool, timeout time.Duration) Status {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	logger.Infof("request download of %s", fileName)

	transfer := NewFileTransfer(fileName)
	message := &OutMessage{
		Command:     CreateFileGet(h.cfg.AppKey, fileName),
		Description: "Download " + fileName,
		Transfer:    transfer,
	}

	status := h.Send(message)
	if status != StatusSuccess || !blocking {
		return status
	}

	if s := h.waitTransfers([]*FileTransfer{transfer}, deadline); s != StatusSuccess {
		return s
	}

	status, _ = transfer.Status()

	return status
}

// RequestUpload offers every file in the upload directory matching the glob
// pattern to the cloud. A file whose checksum computes to zero fails the
// whole batch. When blocking is set, it waits until every offered transfer
// reaches a final status or the timeout passes.
func (h *Handler) RequestUpload(pattern string, blocking bool, timeout time.Duration) Status {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	logger.Infof("request upload of %s", pattern)

	uploadDir := filepath.Join(h.cfg.RuntimeDir, "upload")
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		logger.Errorf("cannot find upload directory %q, upload cancelled", uploadDir)
		return StatusNotFound
	}

	status := StatusSuccess

	var transfers []*FileTransfer
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matched, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			logger.Errorf("bad upload pattern %q: %v", pattern, err)
			return StatusBadParameter
		}
		if !matched {
			continue
		}

		checksum, err := fileCRC32(filepath.Join(uploadDir, entry.Name()))
		if err != nil {
			logger.Errorf("upload request failed, cannot read %q: %v", entry.Name(), err)
			status = StatusFileOpenFailed
			break
		}
		if checksum == 0 {
			logger.Errorf("upload request failed, failed to retrieve checksum for %q", entry.Name())
			status = StatusFailure
			break
		}

		transfer := NewFileTransfer(entry.Name())
		message := &OutMessage{
			Command:     CreateFilePut(h.cfg.AppKey, entry.Name()),
			Description: "Upload " + entry.Name(),
			Transfer:    transfer,
		}

		status = h.Send(message)
		transfers = append(transfers, transfer)
	}

	if len(transfers) == 0 || status != StatusSuccess || !blocking {
		return status
	}

	return h.waitTransfers(transfers, deadline)
}

//******* Sending *******//

// Send publishes the given messages as one envelope on the next unused
// topic number and registers them in the reply tracker. The tracker insert
// happens under the same lock as the publish, before Send returns.
func (h *Handler) Send(messages ...*OutMessage) Status {
	commands := make([]Command, len(messages))
	for i, msg := range messages {
		commands[i] = msg.Command
	}

	payload, err := GenerateRequest(commands)
	if err != nil {
		logger.Errorf("failed to serialize request: %v", err)
		return StatusFailure
	}

	if h.mqtt == nil {
		logger.Error("cannot send, client never connected")
		return StatusNotInitialized
	}

	h.lock.Lock()

	var topicNum string
	for {
		topicNum = fmt.Sprintf("%04d", h.topicCounter)
		h.topicCounter++
		if !h.tracker.contains(topicNum) {
			break
		}
	}

	token := h.mqtt.Publish("api/"+topicNum, 1, false, payload)

	now := time.Now().UTC()
	for i, msg := range messages {
		msg.SendTime = now
		msg.OutID = fmt.Sprintf("%s-%d", topicNum, i+1)

		if err := h.tracker.add(msg); err != nil {
			logger.Errorf("failed to track message: %v", err)
			continue
		}

		logger.Infof("sending %s-%d - %s", topicNum, i+1, msg)
		logger.Debugf(".... %v", msg.Command)
	}

	h.lock.Unlock()

	if token.Wait(); token.Error() != nil {
		logger.Errorf("failed to publish request: %v", token.Error())
		return StatusFailure
	}

	return StatusSuccess
}
