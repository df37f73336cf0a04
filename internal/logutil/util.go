/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logutil formats controller command log lines as command=[..] action=[..] key=[value] pairs.
package logutil

import (
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go/spi/log"
)

// LogError logs a failed command action.
func LogError(logger log.Logger, command, action, errMsg string, data ...string) {
	logger.Errorf("%s errMsg=[%s]", line(command, action, data), errMsg)
}

// LogWarn logs a command action that was refused without failing.
func LogWarn(logger log.Logger, command, action, msg string, data ...string) {
	logger.Warnf("%s msg=[%s]", line(command, action, data), msg)
}

// LogInfo logs a command action.
func LogInfo(logger log.Logger, command, action, msg string, data ...string) {
	logger.Infof("%s msg=[%s]", line(command, action, data), msg)
}

// LogDebug logs command action details.
func LogDebug(logger log.Logger, command, action, msg string, data ...string) {
	logger.Debugf("%s msg=[%s]", line(command, action, data), msg)
}

// CreateKeyValueString formats a key=[value] pair for the data arguments of the Log functions.
func CreateKeyValueString(key, val string) string {
	return fmt.Sprintf("%s=[%s]", key, val)
}

func line(command, action string, data []string) string {
	parts := append([]string{
		CreateKeyValueString("command", command),
		CreateKeyValueString("action", action),
	}, data...)

	return strings.Join(parts, " ")
}
