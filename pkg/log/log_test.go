package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogTestSuite struct {
	suite.Suite
	previous zapcore.Level
}

func (s *LogTestSuite) SetupTest() {
	s.previous = GetLevel()
}

func (s *LogTestSuite) TearDownTest() {
	logLevel.SetLevel(s.previous)
}

func (s *LogTestSuite) TestLevels() {
	cases := []struct {
		level   string
		want    zapcore.Level
		enabled map[string]bool
	}{
		{"debug", zapcore.DebugLevel, map[string]bool{"debug": true, "info": true, "warn": true, "error": true}},
		{"INFO", zapcore.InfoLevel, map[string]bool{"info": true, "warn": true, "error": true}},
		{" warn ", zapcore.WarnLevel, map[string]bool{"warn": true, "error": true}},
		{"error", zapcore.ErrorLevel, map[string]bool{"error": true}},
		{"panic", zapcore.PanicLevel, map[string]bool{}},
	}

	funcs := map[string]func(string, ...interface{}){
		"debug": Debug,
		"info":  Info,
		"warn":  Warn,
		"error": Error,
	}

	for _, tc := range cases {
		require.NoError(s.T(), SetLevel(tc.level))
		assert.Equal(s.T(), tc.want, GetLevel())

		for name, fn := range funcs {
			out := capture(fn, name+" msg", "job_id", "j1")
			if tc.enabled[name] {
				assert.NotEmpty(s.T(), out, "level %s should emit %s", tc.level, name)
			} else {
				assert.Empty(s.T(), out, "level %s should suppress %s", tc.level, name)
			}
		}

		assert.Panics(s.T(), func() { Panic("panic msg", "job_id", "j1") })
	}

	assert.Error(s.T(), SetLevel("bogus"))
}

func (s *LogTestSuite) TestStructuredFields() {
	require.NoError(s.T(), SetLevel("info"))

	out := capture(Info, "job started", "job_id", "j1", "attempt", 2)

	var line map[string]interface{}
	require.NoError(s.T(), json.Unmarshal([]byte(out), &line))
	assert.Equal(s.T(), "job started", line["msg"])
	assert.Equal(s.T(), "j1", line["job_id"])
	assert.EqualValues(s.T(), 2, line["attempt"])
	assert.Contains(s.T(), line, "timestamp")
}

func (s *LogTestSuite) TestClean() {
	assert.Equal(s.T(), "hello world", Clean("Hello World\n"))
}

func capture(logFunc func(string, ...interface{}), msg string, kv ...interface{}) string {
	var buffer bytes.Buffer

	previous := zap.L()
	writer := bufio.NewWriter(&buffer)

	zap.ReplaceGlobals(zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(config()),
		zapcore.AddSync(writer),
		logLevel,
	)))
	defer zap.ReplaceGlobals(previous)

	logFunc(msg, kv...)
	if err := writer.Flush(); err != nil {
		panic(err)
	}

	return buffer.String()
}

func TestLogTestSuite(t *testing.T) {
	suite.Run(t, new(LogTestSuite))
}
