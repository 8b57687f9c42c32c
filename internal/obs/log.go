// Package obs carries the service's observability plumbing: the shared JSON
// line logger, the Prometheus HTTP metrics and the readiness gauge.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

const serviceName = "equicert-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared logger. Output is one JSON object per line on
// stdout; no prefix, no flags, the entries carry their own timestamps.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line. The service and ts fields are
// filled in when the caller did not set them.
func LogRequest(entry map[string]any) {
	if entry == nil {
		entry = map[string]any{}
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceName
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"` + serviceName + `","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
