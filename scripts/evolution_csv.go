package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/Agrid-Dev/proofbox/internal/heater"
	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/simulator"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

type ThresholdCommand struct {
	IterationNumber int
	Upper, Lower    float64
}

// simClock only moves when told to, so the chamber and the loop agree on time.
type simClock struct{ t time.Time }

func (c *simClock) now() time.Time      { return c.t }
func (c *simClock) add(d time.Duration) { c.t = c.t.Add(d) }

func SimulateProofbox(iterations int, filename string, commands []ThresholdCommand) error {
	clock := &simClock{t: time.Unix(0, 0)}

	chamber, err := simulator.NewChamber(simulator.ChamberParams{
		InitialTemperature: 21,
		HeatLoss: simulator.HeatLossParams{
			RoomTemperature: 18,
			Coefficient:     1.e-3,
		},
		HeaterPower: 0.02,
		FailureRate: 0.01,
	}, simulator.WithClock(clock.now), simulator.WithSeed(1))
	if err != nil {
		return fmt.Errorf("failed to create chamber: %v", err)
	}

	cfg := heater.Config{
		UpperThreshold: 25,
		LowerThreshold: 23.9,
		InitialState:   hysteresis.Off,
		PollInterval:   2 * time.Second,
	}
	loop, err := heater.New(cfg, chamber, chamber, heater.WithClock(clock.now))
	if err != nil {
		return fmt.Errorf("failed to create heater loop: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Iteration", "Seconds", "Temperature", "Upper", "Lower", "Heater", "FailureStreak"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	ctx := context.Background()
	for i := range iterations {
		for _, cmd := range commands {
			if cmd.IterationNumber == i+1 {
				if err := loop.SetThresholds(cmd.Upper, cmd.Lower); err != nil {
					return fmt.Errorf("failed to update thresholds: %v", err)
				}
				break
			}
		}

		st := loop.Tick(ctx)
		if err := writer.Write([]string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.0f", clock.t.Sub(time.Unix(0, 0)).Seconds()),
			fmt.Sprintf("%.2f", chamber.Temperature()),
			fmt.Sprintf("%.2f", st.UpperThreshold),
			fmt.Sprintf("%.2f", st.LowerThreshold),
			st.Heater.String(),
			fmt.Sprintf("%d", st.FailureStreak),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}

		clock.add(cfg.PollInterval)
	}

	return nil
}

func main() {
	commands := []ThresholdCommand{
		{IterationNumber: 600, Upper: 27, Lower: 26},
	}
	if err := SimulateProofbox(1500, "proofbox.csv", commands); err != nil {
		ui.Fatal("%v", err)
	}
}
