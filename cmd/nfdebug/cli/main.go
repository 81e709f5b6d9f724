// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the main entrypoint for nfdebug.
package cli

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/introspect/cmd/nfdebug/cmd"
	"gvisor.dev/introspect/cmd/nfdebug/cmd/util"
	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)
	startTime := time.Now()

	// Set up logging. Warnings always go to stderr.
	if conf.Debug {
		log.SetLevel(log.Debug)
	} else {
		log.SetLevel(log.Warning)
	}
	var emitters log.MultiEmitter
	emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	if conf.DebugLog != "" {
		f, err := log.OpenFile(conf.DebugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.CommandFileOpts{Command: subcommand, Start: startTime})
		if err != nil {
			util.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		util.ErrorLogger = f
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	log.SetTarget(&emitters)
	if err := log.CopyStandardLogTo(log.Info); err != nil {
		util.Fatalf("%v", err)
	}

	const delimString = "**************** nfdebug ****************"
	log.Infof(delimString)
	log.Infof("Args: %s", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// nfdebug.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.CPU), "")
	cb(new(cmd.Read), "")
	cb(new(cmd.Scan), "")
	cb(new(cmd.Translate), "")
}

func newEmitter(format string, logFile *os.File) log.Emitter {
	e, err := log.NewEmitter(format, &log.Writer{Next: logFile})
	if err != nil {
		util.Fatalf("%v", err)
	}
	return e
}
