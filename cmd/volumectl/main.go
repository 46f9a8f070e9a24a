package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/monitor"
	"github.com/anden3/volume-sync/internal/platform/local"
)

const setVolumeWait = 2 * time.Second

func main() {
	setLevel := flag.Float64("set", -1, "request a volume level in 0..1 (clamped to the ceiling)")
	maxLevel := flag.Float64("max", monitor.DefaultMaxLevel, "volume ceiling in 0..1")
	watchFor := flag.Duration("watch", 0, "keep printing volume changes for this long")
	verbose := flag.Bool("v", false, "verbose platform logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Printf("[ERROR] Failed to create logger: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("🔊 volumectl")
	fmt.Println("────────────────────────────")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(logger, local.New(logger), monitor.WithMaxLevel(float32(*maxLevel)))

	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	select {
	case <-mon.Ready():
	case err := <-monErr:
		fmt.Printf("[ERROR] Failed to start volume monitor: %v\n", err)
		os.Exit(1)
	}

	rx := mon.Watch()
	printVolume(rx.Latest())

	if *setLevel >= 0 {
		mon.SetVolume(float32(*setLevel))
		waitCtx, cancel := context.WithTimeout(ctx, setVolumeWait)
		vol, err := rx.Changed(waitCtx)
		cancel()
		if err != nil {
			fmt.Println("[WARN] No confirmation from the device")
		} else {
			printVolume(vol)
		}
	}

	if *watchFor > 0 {
		watchCtx, cancel := context.WithTimeout(ctx, *watchFor)
		defer cancel()
		for {
			vol, err := rx.Changed(watchCtx)
			if err != nil {
				return
			}
			printVolume(vol)
		}
	}
}

func printVolume(vol monitor.Volume) {
	if !vol.Available {
		fmt.Println("[INFO] No output device available")
		return
	}
	fmt.Printf("[INFO] Volume: %.0f%%\n", vol.Level*100)
}
