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

type PassThroughRecordList struct {
	recordAddChan chan *PassThroughRecord
	records       map[string]*PassThroughRecord
	mu            sync.RWMutex
	dumpFile      string
}

// PassThroughRecord counts responses from Host that were not rewritten, per
// reason.
type PassThroughRecord struct {
	Host   string `json:"host"`
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

func (r *PassThroughRecord) key() string {
	return r.Host + " " + r.Reason
}

func NewPassThroughRecordList(dumpFile string) *PassThroughRecordList {
	return &PassThroughRecordList{
		recordAddChan: make(chan *PassThroughRecord, 100),
		records:       make(map[string]*PassThroughRecord, 100),
		dumpFile:      dumpFile,
	}
}

func (l *PassThroughRecordList) Run(ctx context.Context) {
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

func (l *PassThroughRecordList) Add(record *PassThroughRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, exists := l.records[record.key()]; exists {
		r.Count++
		return
	}
	l.records[record.key()] = &PassThroughRecord{
		Host:   record.Host,
		Reason: record.Reason,
		Count:  1,
	}
}

func (l *PassThroughRecordList) List() []PassThroughRecord {
	l.mu.RLock()
	list := make([]PassThroughRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].key() < list[j].key()
	})
	return list
}

func (l *PassThroughRecordList) Dump() {
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
	defer func() {
		if err := w.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, record := range l.List() {
		if _, err := fmt.Fprintf(w, "%s %d %s\n", record.Host, record.Count, record.Reason); err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
}
