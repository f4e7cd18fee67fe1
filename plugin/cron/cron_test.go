//nolint:all
package cron

import (
	"bytes"
	"log"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
)

// Test utilities for cron package (minimal, fast tests only)

// syncWriter is a thread-safe bytes.Buffer
type syncWriter struct {
	wr bytes.Buffer
	m  sync.Mutex
}

func (sw *syncWriter) Write(data []byte) (n int, err error) {
	sw.m.Lock()
	n, err = sw.wr.Write(data)
	sw.m.Unlock()
	return
}

func (sw *syncWriter) String() string {
	sw.m.Lock()
	defer sw.m.Unlock()
	return sw.wr.String()
}

func newBufLogger(sw *syncWriter) cronv3.Logger {
	return cronv3.PrintfLogger(log.New(sw, "", log.LstdFlags))
}

// OneSecond is used for quick timing tests
const OneSecond = 1100 * time.Millisecond // Slightly over 1s for @every 1s tasks
