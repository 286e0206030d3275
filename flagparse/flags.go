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

// Package flags assembles the agent configuration from defaults, an
// optional JSON configuration file, environment variables and CLI flags,
// in that order of precedence.
package flags

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"unicode"

	"github.com/caarlos0/env/v6"

	"github.com/gwythaint/device-cloud-go/client"
	"github.com/gwythaint/device-cloud-go/logger"
)

// ConfigFile is the name of the flag defining the configuration file
const ConfigFile = "configFile"

// AgentConfig describes the configuration of the device agent
type AgentConfig struct {
	client.Config
	logger.LogConfig

	TelemetryInterval client.Duration `json:"telemetryInterval,omitempty" env:"DC_TELEMETRY_INTERVAL" def:"10s" descr:"Period of the telemetry publisher. Should be a sequence of decimal numbers with a unit suffix, such as '300ms', '10s' or '1m'"`
}

// ConfigFileMissing error, which represents a warning for missing config file
type ConfigFileMissing error

// ParseFlags parses the CLI flags and generates the agent configuration
func ParseFlags(version string) (*AgentConfig, ConfigFileMissing) {
	flagsConfig := &AgentConfig{}
	printVersion := flag.Bool("version", false, "Prints current version and exits")
	configFile := flag.String(ConfigFile, "", "Defines the configuration file")

	initConfigValues(reflect.ValueOf(flagsConfig).Elem(), true)

	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	config := &AgentConfig{}
	warn := loadConfigFromFile(*configFile, config)

	if err := env.Parse(config); err != nil {
		log.Fatalf("Error reading configuration from environment: %v", err)
	}

	applyFlags(config, *flagsConfig)

	return config, warn
}

// applyFlags applies CLI values over config values
func applyFlags(config interface{}, flagsConfig interface{}) {
	srcVal := reflect.ValueOf(flagsConfig)
	dstVal := reflect.ValueOf(config).Elem()
	flag.Visit(func(f *flag.Flag) {
		name := ToFieldName(f.Name)

		srcField := srcVal.FieldByName(name)
		if srcField.Kind() != reflect.Invalid {
			dstField := dstVal.FieldByName(name)

			dstField.Set(srcField)
		}
	})
}

// loadConfigFromFile sets the tag-defined defaults on the given config
// structure and overlays the values from the specified file, if any.
func loadConfigFromFile(configFile string, cfg *AgentConfig) ConfigFileMissing {
	initConfigValues(reflect.ValueOf(cfg).Elem(), false)

	var warn ConfigFileMissing

	if len(configFile) > 0 {
		err := LoadJSON(configFile, cfg)

		if err != nil {
			if os.IsNotExist(err) {
				warn = err
			} else {
				log.Fatalf("Error reading config file: %v", err)
			}
		}
	}

	return warn
}

// initConfigValues walks the config structure. With flagIt set it defines a
// flag variable per field; otherwise it assigns the defaults from the 'def'
// field tags. Flag names are the field names with the first letter lower
// cased, descriptions come from the 'descr' tags.
func initConfigValues(valueOfConfig reflect.Value, flagIt bool) {
	typeOfConfig := valueOfConfig.Type()
	numFields := typeOfConfig.NumField()
	for i := 0; i < numFields; i++ {
		fieldType := typeOfConfig.Field(i)
		argName := ToFlagName(fieldType.Name)

		if !fieldType.IsExported() {
			continue
		}

		defaultValue := fieldType.Tag.Get("def")
		description := fieldType.Tag.Get("descr")

		fieldValue := valueOfConfig.FieldByName(fieldType.Name)
		pointer := fieldValue.Addr().Interface()

		switch val := fieldValue.Interface(); val.(type) {
		case string:
			if flagIt {
				flag.StringVar(pointer.(*string), argName, defaultValue, description)
			} else {
				fieldValue.SetString(defaultValue)
			}
		case bool:
			defaultBoolValue, _ := strconv.ParseBool(defaultValue)
			if flagIt {
				flag.BoolVar(pointer.(*bool), argName, defaultBoolValue, description)
			} else {
				fieldValue.SetBool(defaultBoolValue)
			}
		case int:
			defaultIntValue, err := strconv.Atoi(defaultValue)
			if err != nil && defaultValue != "" {
				log.Printf("Error parsing integer argument %v with value %v", fieldType.Name, defaultValue)
			}
			if flagIt {
				flag.IntVar(pointer.(*int), argName, defaultIntValue, description)
			} else {
				fieldValue.SetInt(int64(defaultIntValue))
			}
		default:
			v, ok := pointer.(flag.Value)

			if ok {
				if flagIt {
					flag.Var(v, argName, description)
				} else if defaultValue == "" {
					// leave the zero value
				} else if err := v.Set(defaultValue); err != nil {
					log.Printf("Error parsing argument %v with value %v - %v", fieldType.Name, defaultValue, err)
				}
			} else if fieldType.Type.Kind() == reflect.Struct {
				initConfigValues(fieldValue, flagIt)
			}
		}
	}
}

// LoadJSON loads a json file from path into a given interface
func LoadJSON(file string, v interface{}) error {
	b, err := os.ReadFile(file)
	if err == nil {
		err = json.Unmarshal(b, v)
	}

	return err
}

// ToFlagName converts config structure field name to command-line flag name
func ToFlagName(s string) string {
	rn := []rune(s)
	rn[0] = unicode.ToLower(rn[0])
	return string(rn)
}

// ToFieldName converts command-line flag name to config structure field name
func ToFieldName(s string) string {
	rn := []rune(s)
	rn[0] = unicode.ToUpper(rn[0])
	return string(rn)
}
