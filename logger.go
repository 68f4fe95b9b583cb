package main

import (
	"bytes"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// plainFormatter renders log lines as "[timestamp] message (k=v ...)".
type plainFormatter struct{}

func (f *plainFormatter) Format(e *log.Entry) ([]byte, error) {
	data := bytes.NewBuffer(make([]byte, 0, 128))
	for k, v := range e.Data {
		if data.Len() > 0 {
			data.WriteString(" ")
		}
		fmt.Fprintf(data, "%s=%v", k, v)
	}

	ts := time.Now().Format("2006-01-02 15:04:05")
	if data.Len() > 0 {
		return []byte(fmt.Sprintf("[%s] %s (%s)\n", ts, e.Message, data)), nil
	}
	return []byte(fmt.Sprintf("[%s] %s\n", ts, e.Message)), nil
}
