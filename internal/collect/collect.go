// Package collect gathers feed records for the ingestion stages and writes
// them to the durable sink.
package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// Collector produces the records one ingestion stage should write.
type Collector interface {
	Collect(ctx context.Context) ([]types.Record, error)
}

// DirCollector reads *.json files from a directory. Each file holds a single
// object or an array of objects; every object becomes a record for table.
type DirCollector struct {
	dir   string
	table string
}

// NewDirCollector creates a DirCollector.
func NewDirCollector(dir, table string) *DirCollector {
	return &DirCollector{dir: dir, table: table}
}

// Collect reads the directory in lexical file order. A missing directory
// yields no records.
func (c *DirCollector) Collect(ctx context.Context) ([]types.Record, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading collect dir %s: %w", c.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var records []types.Record
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		objs, err := readObjects(filepath.Join(c.dir, name))
		if err != nil {
			return records, err
		}
		for _, obj := range objs {
			records = append(records, types.Record{Table: c.table, Data: obj})
		}
	}
	return records, nil
}

func readObjects(path string) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var objs []map[string]interface{}
		if err := json.Unmarshal(data, &objs); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return objs, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return []map[string]interface{}{obj}, nil
}

// Summary reports what one ingestion pass did.
type Summary struct {
	Collected int `json:"collected"`
	Inserted  int `json:"inserted"`
	Failed    int `json:"failed"`
}

// Output renders the summary as stage output.
func (s Summary) Output() map[string]interface{} {
	return map[string]interface{}{
		"collected": s.Collected,
		"inserted":  s.Inserted,
		"failed":    s.Failed,
	}
}

// Ingester writes collected records one at a time under the durable
// policy, so each failing record is dead-lettered on its own.
type Ingester struct {
	name      string
	collector Collector
	sink      provider.DurableSink
	policy    *retry.Policy
	logger    *slog.Logger
}

// NewIngester creates an Ingester. A nil policy selects retry.Durable
// without dead-lettering.
func NewIngester(name string, c Collector, sink provider.DurableSink, policy *retry.Policy, logger *slog.Logger) *Ingester {
	if policy == nil {
		policy = retry.Durable(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{name: name, collector: c, sink: sink, policy: policy, logger: logger}
}

// Ingest collects and inserts. It returns an error when collection fails or
// any record could not be written.
func (i *Ingester) Ingest(ctx context.Context) (Summary, error) {
	records, err := i.collector.Collect(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("collecting %s records: %w", i.name, err)
	}

	sum := Summary{Collected: len(records)}
	var lastErr error
	for _, rec := range records {
		rec := rec
		err := retry.Exec(ctx, i.policy, "insert:"+rec.Table, rec.Data, func(ctx context.Context) error {
			return i.sink.Insert(ctx, rec.Table, rec.Data)
		})
		if err != nil {
			sum.Failed++
			lastErr = err
			continue
		}
		sum.Inserted++
	}

	i.logger.Info("ingestion finished", "feed", i.name, "collected", sum.Collected, "inserted", sum.Inserted, "failed", sum.Failed)
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d of %d %s records failed, last error: %w", sum.Failed, sum.Collected, i.name, lastErr)
	}
	return sum, nil
}
