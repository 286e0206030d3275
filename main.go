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

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gwythaint/device-cloud-go/client"
	flags "github.com/gwythaint/device-cloud-go/flagparse"
	"github.com/gwythaint/device-cloud-go/logger"
)

var version = "dev"

func main() {
	cfg, warn := flags.ParseFlags(version)

	loggerOut, err := logger.SetupLogger(&cfg.LogConfig, "[DEVICE AGENT]")
	if err != nil {
		log.Fatalln("Failed to initialize logger: ", err)
	}
	defer loggerOut.Close()

	if warn != nil {
		logger.Warn(warn)
	}

	sessionID := uuid.New().String()
	logger.Infof("agent session %s starting", sessionID)

	c, err := client.NewClient(&cfg.Config)
	if err != nil {
		log.Fatalln("Failed to create client: ", err)
	}

	c.ActionRegisterCallback("ping", func(ctx *client.ActionContext) client.ActionResult {
		return client.ActionResult{
			Status:  client.StatusSuccess,
			Message: "pong",
			Params:  map[string]interface{}{"session": ctx.UserData},
		}
	}, sessionID)

	chstop := make(chan os.Signal, 1)
	signal.Notify(chstop, syscall.SIGINT, syscall.SIGTERM)

	c.ActionRegisterCallback("quit", func(*client.ActionContext) client.ActionResult {
		chstop <- syscall.SIGTERM
		return client.ActionResult{Status: client.StatusSuccess}
	}, nil)

	c.ActionRegisterCommand("uptime", []string{"uptime"})

	if status := c.Connect(30 * time.Second); status != client.StatusSuccess {
		log.Fatalln("Failed to connect: ", status)
	}

	c.Attribute("agent_session", sessionID)
	c.Log("agent started")

	sampler := client.NewPeriodicExecutor(nil, nil, time.Duration(cfg.TelemetryInterval), func() {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)

		c.Telemetry("memory_alloc_kb", float64(stats.Alloc)/1024)
		c.Telemetry("goroutines", float64(runtime.NumGoroutine()))
	})
	defer sampler.Stop()

	fmt.Println("Press Ctrl+C to exit.")
	<-chstop

	c.Log("agent stopping")
	c.Disconnect(true, 30*time.Second)
	logger.Info("disconnected from cloud")
}
