/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) record(level, msg string, args ...interface{}) {
	l.lines = append(l.lines, level+" "+fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) Panicf(msg string, args ...interface{}) { l.record("PANIC", msg, args...) }
func (l *recordingLogger) Fatalf(msg string, args ...interface{}) { l.record("FATAL", msg, args...) }
func (l *recordingLogger) Errorf(msg string, args ...interface{}) { l.record("ERROR", msg, args...) }
func (l *recordingLogger) Warnf(msg string, args ...interface{})  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Infof(msg string, args ...interface{})  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Debugf(msg string, args ...interface{}) { l.record("DEBUG", msg, args...) }

func TestLogLines(t *testing.T) {
	l := &recordingLogger{}
	from := CreateKeyValueString("from", "did:example:alice")

	LogError(l, "relay", "SendEnvelope", "broker down", from)
	LogWarn(l, "relay", "SendEnvelope", "rate limited", from)
	LogInfo(l, "messaging", "Send", "sent")
	LogDebug(l, "messaging", "Messages", "listed", "unread=[2]", "total=[5]")

	require.Equal(t, []string{
		"ERROR command=[relay] action=[SendEnvelope] from=[did:example:alice] errMsg=[broker down]",
		"WARN command=[relay] action=[SendEnvelope] from=[did:example:alice] msg=[rate limited]",
		"INFO command=[messaging] action=[Send] msg=[sent]",
		"DEBUG command=[messaging] action=[Messages] unread=[2] total=[5] msg=[listed]",
	}, l.lines)
}
