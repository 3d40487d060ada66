// Copyright 2025 UMH Systems GmbH
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

package process_manager

import (
	"bytes"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// lineLogger is the stdout/stderr sink of a worker. It forwards every
// complete line to the logger and keeps the trailing partial line until the
// next write or Flush.
type lineLogger struct {
	log    *zap.SugaredLogger
	worker string
	stream string

	mu      sync.Mutex
	pending bytes.Buffer
}

func newLineLogger(log *zap.SugaredLogger, worker, stream string) *lineLogger {
	return &lineLogger{log: log, worker: worker, stream: stream}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	for {
		idx := bytes.IndexByte(w.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.pending.Next(idx + 1))
		w.emit(line)
	}

	return len(p), nil
}

// Flush logs whatever is left without a trailing newline.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Len() > 0 {
		w.emit(w.pending.String())
		w.pending.Reset()
	}
}

func (w *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	w.log.Infow(line, "worker", w.worker, "stream", w.stream)
}
