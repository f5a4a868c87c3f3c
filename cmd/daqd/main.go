// Command daqd runs the DAQ daemon: device registry, RunEngine, preset
// store, and gRPC service boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/easternanemone/rust-daq-sub004/devicemock"
	"github.com/easternanemone/rust-daq-sub004/internal/engine"
	"github.com/easternanemone/rust-daq-sub004/internal/logging"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
	"github.com/easternanemone/rust-daq-sub004/internal/preset"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
	"github.com/easternanemone/rust-daq-sub004/internal/rpcserver"
)

func main() {
	var (
		addr       = flag.String("addr", ":50051", "gRPC bind address")
		devicesStr = flag.String("devices", "", "path to a device config JSON file (default built-in mock devices)")
		dataDir    = flag.String("data", "./data", "data directory for presets and run artifacts")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	reg := registry.New()
	if err := loadDevices(reg, *devicesStr); err != nil {
		logger.Error("failed to load devices", "error", err, "path", *devicesStr)
		os.Exit(1)
	}
	logger.Info("devices registered", "count", len(reg.IDs()))

	presetStore, err := preset.NewStore(*dataDir+"/presets", preset.DefaultMaxBackups)
	if err != nil {
		logger.Error("failed to open preset store", "error", err, "dir", *dataDir)
		os.Exit(1)
	}

	plans := plan.NewRegistry()
	registerBuiltinPlans(plans)

	eng := engine.New(reg, logger)

	server := rpcserver.NewServer(rpcserver.Config{
		Engine:   eng,
		Plans:    plans,
		Registry: reg,
		Presets:  presetStore,
		Log:      logger,
	})

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("failed to bind", "error", err, "addr", *addr)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("serving gRPC", "addr", *addr)
		if err := server.GRPC.Serve(listener); err != nil {
			logger.Error("grpc serve exited", "error", err)
		}
	}()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])

			filename := fmt.Sprintf("daqd-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\npid %d\n\n", time.Now().Format(time.RFC3339), os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")
	cancel()

	stopped := make(chan struct{})
	go func() {
		server.GRPC.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Info("graceful stop timed out, forcing exit")
		server.GRPC.Stop()
	}

	os.Exit(0)
}

func registerBuiltinPlans(plans *plan.Registry) {
	plans.Register("count", func(params map[string]string) (plan.Plan, error) {
		n, err := intParam(params, "num_points", 1)
		if err != nil {
			return nil, err
		}
		p := plan.NewCount(n)
		if d, ok := params["delay"]; ok {
			if f, err := floatParam(d); err == nil {
				p.WithDelay(f)
			}
		}
		if dets, ok := params["detectors"]; ok {
			p.WithDetectors(splitCSV(dets)...)
		}
		return p, nil
	})

	plans.Register("line_scan", func(params map[string]string) (plan.Plan, error) {
		start, _ := floatParam(params["start"])
		stop, _ := floatParam(params["stop"])
		n, err := intParam(params, "num_points", 2)
		if err != nil {
			return nil, err
		}
		p := plan.NewLineScan(params["axis"], start, stop, n)
		if dets, ok := params["detectors"]; ok {
			p.WithDetectors(splitCSV(dets)...)
		}
		return p, nil
	})

	plans.Register("grid_scan", func(params map[string]string) (plan.Plan, error) {
		outerStart, _ := floatParam(params["outer_start"])
		outerStop, _ := floatParam(params["outer_stop"])
		outerN, err := intParam(params, "outer_points", 2)
		if err != nil {
			return nil, err
		}
		innerStart, _ := floatParam(params["inner_start"])
		innerStop, _ := floatParam(params["inner_stop"])
		innerN, err := intParam(params, "inner_points", 2)
		if err != nil {
			return nil, err
		}
		p := plan.NewGridScan(params["axis_outer"], outerStart, outerStop, outerN,
			params["axis_inner"], innerStart, innerStop, innerN)
		if dets, ok := params["detectors"]; ok {
			p.WithDetectors(splitCSV(dets)...)
		}
		return p, nil
	})
}

// deviceConfig is the on-disk shape of one entry in -devices' JSON array.
type deviceConfig struct {
	ID     string             `json:"id"`
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params"`
}

func loadDevices(reg *registry.Registry, path string) error {
	if path == "" {
		registerDefaultDevices(reg)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var configs []deviceConfig
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &configs); err != nil {
		return err
	}

	shutters := make(map[string]*devicemock.Shutter)
	for _, c := range configs {
		switch c.Type {
		case "stage":
			reg.Register(devicemock.NewStage(c.ID))
		case "sensor":
			reg.Register(devicemock.NewSensor(c.ID, int64(len(c.ID))))
		case "camera":
			w, h := 512, 512
			if v, ok := c.Params["width"]; ok {
				w = int(v)
			}
			if v, ok := c.Params["height"]; ok {
				h = int(v)
			}
			reg.Register(devicemock.NewCamera(c.ID, w, h))
		case "shutter":
			shutter := devicemock.NewShutter(c.ID)
			shutters[c.ID] = shutter
			reg.Register(shutter)
		case "laser":
			reg.Register(devicemock.NewLaser(c.ID, nil))
		}
	}
	return nil
}

func registerDefaultDevices(reg *registry.Registry) {
	reg.Register(devicemock.NewStage("stage1"))
	reg.Register(devicemock.NewSensor("sensor1", 1))
	reg.Register(devicemock.NewCamera("cam1", 512, 512))
	shutter := devicemock.NewShutter("shutter1")
	reg.Register(shutter)
	reg.Register(devicemock.NewLaser("laser1", shutter))
}

func intParam(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	return strconv.Atoi(v)
}

func floatParam(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
