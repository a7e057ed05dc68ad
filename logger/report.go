package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

// per-component warn/error counters, keyed by the "component" field
var components sync.Map

func statFor(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

// ComponentCounts returns warn and error totals recorded for a component.
func ComponentCounts(component string) (warns, errors int64) {
	v, ok := components.Load(component)
	if !ok {
		return 0, 0
	}
	cs := v.(*componentStat)
	return atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors)
}

// StartReport begins periodic logging of runtime and per-component statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	counts := map[string]map[string]int64{}
	var names []string
	components.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*componentStat)
		counts[name] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	log.WithComponent("report").WithFields(Fields{
		"goroutines": runtime.NumGoroutine(),
		"heap_mb":    int64(mem.HeapAlloc) / 1024 / 1024,
		"components": counts,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		{MetricName: aws.String("heap_mb"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(mem.HeapAlloc) / 1024 / 1024)},
	}
	for _, name := range names {
		dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("warnings"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(counts[name]["warns"]))},
			cwtypes.MetricDatum{MetricName: aws.String("errors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(counts[name]["errors"]))},
		)
	}
	publishMetrics(ctx, data)
}
