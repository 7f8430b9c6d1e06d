// Command blkmigsim drives a migration engine and receiver against a
// pair of in-memory devices, simulating guest writes mid-migration, so
// the two-phase algorithm can be exercised and watched without a real
// hypervisor or real block devices.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/blkmig/blkmigrate"
	"github.com/blkmig/blkmigrate/internal/blockdev"
	"github.com/blkmig/blkmigrate/internal/clock"
	"github.com/blkmig/blkmigrate/internal/logging"
	"github.com/blkmig/blkmigrate/internal/transport"
)

// fixedDowntimeDriver is the minimal MigrationDriver a demo needs: a
// single operator-set downtime budget, no phase logic of its own since
// that's what the Engine implements.
type fixedDowntimeDriver struct {
	budget float64
}

func (d fixedDowntimeDriver) MaxDowntimeSeconds() float64 { return d.budget }

func main() {
	app := &cli.App{
		Name:  "blkmigsim",
		Usage: "simulate a live block-device migration against in-memory devices",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "size", Value: 32 << 20, Usage: "device size in bytes"},
			&cli.Float64Flag{Name: "downtime", Value: blkmigrate.DefaultMaxDowntimeSeconds, Usage: "max downtime budget in seconds"},
			&cli.Int64Flag{Name: "rate-limit", Value: 8 << 20, Usage: "rate limit window in bytes"},
			&cli.IntFlag{Name: "guest-writes", Value: 20, Usage: "number of simulated guest writes to inject during the bulk phase"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	size := c.Int64("size")
	downtime := c.Float64("downtime")
	rateLimit := c.Int64("rate-limit")
	guestWrites := c.Int("guest-writes")

	logConfig := logging.DefaultConfig()
	if c.Bool("verbose") {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	source := blockdev.NewMemory("vda", size)
	dest := blockdev.NewMemory("vda", size)

	if err := seedPattern(source, size); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	sourceRegistry := blockdev.NewRegistry()
	sourceRegistry.Register(source)
	destRegistry := blockdev.NewRegistry()
	destRegistry.Register(dest)

	refTable := blockdev.NewRefTable()

	var wire bytes.Buffer
	sink := transport.New(&wire, rateLimit)

	engine := blkmigrate.NewEngine(blkmigrate.Options{
		Devices:  sourceRegistry,
		RefTable: refTable,
		Sink:     sink,
		Clock:    clock.New(),
		Driver:   fixedDowntimeDriver{budget: downtime},
		Logger:   logger,
	})
	engine.SetParams(blkmigrate.MigrationParams{
		Blk:                  true,
		MaxDowntimeSeconds:   downtime,
		RateLimitWindowBytes: rateLimit,
	})

	receiver := blkmigrate.NewReceiver(sink, destRegistry, logger)

	ctx := context.Background()

	logger.Info("starting migration", "size", size, "downtime_budget", downtime)

	if err := engine.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := receiver.Run(); err != nil {
		return fmt.Errorf("receiver drain after setup: %w", err)
	}

	rng := rand.New(rand.NewSource(1))
	writesInjected := 0

	for {
		done, err := engine.Iterate(ctx)
		if err != nil {
			return fmt.Errorf("iterate: %w", err)
		}
		if err := receiver.Run(); err != nil {
			return fmt.Errorf("receiver drain during iterate: %w", err)
		}

		if writesInjected < guestWrites && !done {
			if err := injectGuestWrite(source, size, rng); err != nil {
				return fmt.Errorf("guest write: %w", err)
			}
			writesInjected++
			logger.WithDevice(source.Name()).Debugf("injected guest write #%d", writesInjected)
		}

		if done {
			break
		}
	}

	logger.Info("bulk phase converged, entering downtime window", "guest_writes_injected", writesInjected)

	if err := engine.Complete(ctx); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if err := receiver.Run(); err != nil {
		return fmt.Errorf("receiver drain after complete: %w", err)
	}

	logger.Info("migration complete", "bytes_transferred", engine.BytesTransferred())

	if err := verify(source, dest, size); err != nil {
		return err
	}
	fmt.Println("source and destination devices match")
	return nil
}

func seedPattern(dev *blockdev.Memory, size int64) error {
	buf := make([]byte, blkmigrate.ChunkBytes)
	for sector := int64(0); sector < size/blkmigrate.SectorSize; sector += blkmigrate.SectorsPerChunk {
		for i := range buf {
			buf[i] = byte(sector + int64(i))
		}
		n := blkmigrate.SectorsPerChunk
		if remaining := size/blkmigrate.SectorSize - sector; remaining < int64(n) {
			n = int(remaining)
		}
		if err := dev.WriteAt(sector, buf, n); err != nil {
			return err
		}
	}
	return nil
}

func injectGuestWrite(dev *blockdev.Memory, size int64, rng *rand.Rand) error {
	totalChunks := size / blkmigrate.ChunkBytes
	if totalChunks == 0 {
		return nil
	}
	chunk := rng.Int63n(totalChunks)
	sector := chunk * blkmigrate.SectorsPerChunk
	buf := make([]byte, blkmigrate.ChunkBytes)
	rng.Read(buf)
	return dev.SimulateGuestWrite(sector, buf, blkmigrate.SectorsPerChunk)
}

func verify(source, dest *blockdev.Memory, size int64) error {
	buf1 := make([]byte, blkmigrate.ChunkBytes)
	buf2 := make([]byte, blkmigrate.ChunkBytes)
	for sector := int64(0); sector < size/blkmigrate.SectorSize; sector += blkmigrate.SectorsPerChunk {
		n := blkmigrate.SectorsPerChunk
		if remaining := size/blkmigrate.SectorSize - sector; remaining < int64(n) {
			n = int(remaining)
		}
		if err := source.ReadAt(sector, buf1, n); err != nil {
			return err
		}
		if err := dest.ReadAt(sector, buf2, n); err != nil {
			return err
		}
		length := n * blkmigrate.SectorSize
		if !bytes.Equal(buf1[:length], buf2[:length]) {
			return fmt.Errorf("mismatch at sector %d", sector)
		}
	}
	return nil
}
