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
)

type RewriteRecordList struct {
	recordAddChan chan *RewriteRecord
	records       map[string]*RewriteRecord
	mu            sync.RWMutex

	dumpRecords []*RewriteRecord
	dumpFile    string
	dumpWriter  *bufio.Writer
}

// RewriteRecord tallies the rewrite attempts for one host. Fallbacks counts
// the attempts that sent the original body.
type RewriteRecord struct {
	Host      string        `json:"host"`
	Type      string        `json:"type"`
	Count     int           `json:"count"`
	Fallbacks int           `json:"fallbacks"`
	InBytes   int64         `json:"in-bytes"`
	OutBytes  int64         `json:"out-bytes"`
	Duration  time.Duration `json:"duration"`
	LastError string        `json:"last-error,omitempty"`
}

func NewRewriteRecordList(dumpFile string) *RewriteRecordList {
	return &RewriteRecordList{
		recordAddChan: make(chan *RewriteRecord, 100),
		records:       make(map[string]*RewriteRecord, 300),
		dumpRecords:   make([]*RewriteRecord, 0, 300),
		dumpFile:      dumpFile,
		dumpWriter:    bufio.NewWriter(nil),
	}
}

func (l *RewriteRecordList) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case record := <-l.recordAddChan:
				l.Add(record)
			case <-ticker.C:
				l.Dump()
			}
		}
	}()
}

// Add folds one attempt into the host's tally. A record with Count zero
// counts as one attempt.
func (l *RewriteRecordList) Add(record *RewriteRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, exists := l.records[record.Host]
	if !exists {
		r = &RewriteRecord{Host: record.Host}
		l.records[record.Host] = r
	}
	r.Count += max(record.Count, 1)
	r.Fallbacks += record.Fallbacks
	r.InBytes += record.InBytes
	r.OutBytes += record.OutBytes
	r.Duration += record.Duration
	if record.Type != "" {
		r.Type = record.Type
	}
	if record.LastError != "" {
		r.LastError = record.LastError
	}
}

// List returns the tallies, busiest host first.
func (l *RewriteRecordList) List() []RewriteRecord {
	l.mu.RLock()
	list := make([]RewriteRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Count > list[j].Count
	})
	return list
}

func (l *RewriteRecordList) Dump() {
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

	l.dumpRecords = l.dumpRecords[:0]
	l.mu.RLock()
	for _, record := range l.records {
		l.dumpRecords = append(l.dumpRecords, record)
	}
	sort.SliceStable(l.dumpRecords, func(i, j int) bool {
		return l.dumpRecords[i].Count > l.dumpRecords[j].Count
	})

	l.dumpWriter.Reset(f)
	defer func() {
		if err := l.dumpWriter.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, record := range l.dumpRecords {
		_, err := fmt.Fprintf(l.dumpWriter, "%s %s %d %d %d %d\n",
			record.Host, record.Type, record.Count, record.Fallbacks, record.InBytes, record.OutBytes)
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
	l.mu.RUnlock()
}
