package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sunbk201/speedreader/internal/sniff"
)

type ConnectionRecordList struct {
	recordAddChan    chan *ConnectionRecord
	recordRemoveChan chan *ConnectionRecord
	records          map[string]*ConnectionRecord
	mu               sync.RWMutex
	dumpFile         string
}

type ConnectionRecord struct {
	Protocol  sniff.Protocol `json:"protocol"`
	SrcAddr   string         `json:"src"`
	DestAddr  string         `json:"dest"`
	StartTime time.Time      `json:"start"`
}

func (r *ConnectionRecord) key() string {
	return r.SrcAddr + "-" + r.DestAddr
}

func NewConnectionRecordList(dumpFile string) *ConnectionRecordList {
	return &ConnectionRecordList{
		recordAddChan:    make(chan *ConnectionRecord, 500),
		recordRemoveChan: make(chan *ConnectionRecord, 500),
		records:          make(map[string]*ConnectionRecord, 500),
		dumpFile:         dumpFile,
	}
}

func (l *ConnectionRecordList) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case record := <-l.recordAddChan:
				l.Add(record)
			case record := <-l.recordRemoveChan:
				l.Remove(record)
			case <-ticker.C:
				l.Dump()
			}
		}
	}()
}

// Add records a connection, or updates the protocol of a known one.
func (l *ConnectionRecordList) Add(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, exists := l.records[record.key()]; exists {
		r.Protocol = record.Protocol
		return
	}
	r := *record
	if r.StartTime.IsZero() {
		r.StartTime = time.Now()
	}
	l.records[r.key()] = &r
}

func (l *ConnectionRecordList) Remove(record *ConnectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, record.key())
}

// List returns the open connections, newest first.
func (l *ConnectionRecordList) List() []ConnectionRecord {
	l.mu.RLock()
	list := make([]ConnectionRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartTime.After(list[j].StartTime)
	})
	return list
}

func (l *ConnectionRecordList) Dump() {
	f, err := os.Create(l.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	w := bufio.NewWriter(f)
	for _, record := range l.List() {
		duration := time.Since(record.StartTime)
		if _, err := fmt.Fprintf(w, "%s %s %s %d\n",
			record.Protocol, record.SrcAddr, record.DestAddr, int(duration.Seconds())); err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
			return
		}
	}
	if err := w.Flush(); err != nil {
		slog.Error("bufio.Writer.Flush", slog.Any("error", err))
	}
}
