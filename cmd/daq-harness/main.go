// Command daq-harness drives an in-process engine through a fixed
// scenario and reports timing and throughput, without any gRPC boundary.
// It exists to exercise the engine/pool/broadcast stack under load the
// way a real acquisition would, for manual soak testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/devicemock"
	"github.com/easternanemone/rust-daq-sub004/internal/broadcast"
	"github.com/easternanemone/rust-daq-sub004/internal/engine"
	"github.com/easternanemone/rust-daq-sub004/internal/logging"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

type docReceiver = broadcast.Receiver[daq.Document]

type summary struct {
	Scenario      string  `json:"scenario"`
	DurationSec   float64 `json:"duration_sec"`
	EventsTotal   int     `json:"events_total"`
	EventsPerSec  float64 `json:"events_per_sec"`
	FramesDropped uint64  `json:"frames_dropped"`
	Clients       int     `json:"clients"`
}

func main() {
	var (
		scenario = flag.String("scenario", "baseline", "scenario: baseline, stress, multiclient, param-churn")
		duration = flag.Duration("duration", 10*time.Second, "scenario duration")
		exposure = flag.Float64("exposure", 10.0, "camera exposure time in ms")
		maxFPS   = flag.Float64("max-fps", 30.0, "maximum trigger rate")
		output   = flag.String("output", "", "optional path to write a JSON summary")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	reg := registry.New()
	cam := devicemock.NewCamera("cam1", 256, 256)
	reg.Register(cam)
	reg.Register(devicemock.NewStage("stage1"))
	if err := cam.SetExposureMs(context.Background(), *exposure); err != nil {
		logger.Error("failed to set exposure", "error", err)
		os.Exit(1)
	}
	cam.Arm(context.Background())

	eng := engine.New(reg, logger)

	var result summary
	var err error
	switch *scenario {
	case "baseline":
		result, err = runBaseline(eng, *duration, *maxFPS)
	case "stress":
		result, err = runStress(eng, *duration, *maxFPS)
	case "multiclient":
		result, err = runMultiClient(eng, *duration, *maxFPS, 8)
	case "param-churn":
		result, err = runParamChurn(eng, cam, *duration)
	default:
		logger.Error("unknown scenario", "scenario", *scenario)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("scenario failed", "error", err)
		os.Exit(1)
	}
	result.Scenario = *scenario

	logger.Info("scenario complete",
		"events_total", result.EventsTotal,
		"events_per_sec", result.EventsPerSec,
		"clients", result.Clients)

	if *output != "" {
		data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Error("failed to marshal summary", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			logger.Error("failed to write summary", "error", err, "path", *output)
			os.Exit(1)
		}
	}
}

func intervalFromFPS(maxFPS float64) float64 {
	if maxFPS <= 0 {
		return 0
	}
	return 1.0 / maxFPS
}

// countForDuration picks a Count plan size from the requested duration and
// cap rate, with a floor of one point.
func countForDuration(duration time.Duration, maxFPS float64) int {
	n := int(duration.Seconds() * maxFPS)
	if n < 1 {
		n = 1
	}
	return n
}

func runBaseline(eng *engine.Engine, duration time.Duration, maxFPS float64) (summary, error) {
	recv := eng.Subscribe("harness")
	defer recv.Unsubscribe()

	p := plan.NewCount(countForDuration(duration, maxFPS)).WithDetectors("cam1").WithDelay(intervalFromFPS(maxFPS))
	eng.Queue(p)
	if err := eng.Start(); err != nil {
		return summary{}, err
	}

	events, dropped := drainUntilStop(recv, duration+5*time.Second)
	return summary{EventsTotal: events, FramesDropped: dropped, Clients: 1}, nil
}

func runStress(eng *engine.Engine, duration time.Duration, maxFPS float64) (summary, error) {
	return runBaseline(eng, duration, maxFPS*4)
}

func runMultiClient(eng *engine.Engine, duration time.Duration, maxFPS float64, numClients int) (summary, error) {
	var wg sync.WaitGroup
	counts := make([]int, numClients)
	drops := make([]uint64, numClients)

	recvs := make([]*docReceiver, numClients)
	for i := 0; i < numClients; i++ {
		recvs[i] = eng.Subscribe(fmt.Sprintf("harness-client-%d", i))
	}

	p := plan.NewCount(countForDuration(duration, maxFPS)).WithDetectors("cam1").WithDelay(intervalFromFPS(maxFPS))
	eng.Queue(p)
	if err := eng.Start(); err != nil {
		return summary{}, err
	}

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer recvs[i].Unsubscribe()
			counts[i], drops[i] = drainUntilStop(recvs[i], duration+5*time.Second)
		}(i)
	}
	wg.Wait()

	total, totalDrops := 0, uint64(0)
	for i := range counts {
		total += counts[i]
		totalDrops += drops[i]
	}
	return summary{EventsTotal: total, FramesDropped: totalDrops, Clients: numClients}, nil
}

func runParamChurn(eng *engine.Engine, cam *devicemock.Camera, duration time.Duration) (summary, error) {
	deadline := time.Now().Add(duration)
	n := 0
	for time.Now().Before(deadline) {
		ms := 5.0 + float64(n%20)
		if err := cam.SetExposureMs(context.Background(), ms); err != nil {
			return summary{}, err
		}
		n++
		time.Sleep(10 * time.Millisecond)
	}
	return summary{EventsTotal: n, Clients: 1}, nil
}

func drainUntilStop(recv *docReceiver, timeout time.Duration) (events int, dropped uint64) {
	deadline := time.After(timeout)
	for {
		select {
		case doc := <-recv.Chan():
			switch doc.(type) {
			case *daq.Event:
				events++
			case *daq.Stop:
				stats := recv.Stats()
				return events, stats.TotalDropped
			}
		case <-deadline:
			return events, 0
		}
	}
}
