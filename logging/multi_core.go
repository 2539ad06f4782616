package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees console and file output at the same level.
//
// The file always receives JSON. The console receives colored text in
// development and JSON otherwise. A nil file writer yields a console-only core.
func NewMultiCore(level zapcore.LevelEnabler, console, file zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, console, level)

	if file == nil {
		return consoleCore
	}

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), file, level)
	return zapcore.NewTee(consoleCore, fileCore)
}
