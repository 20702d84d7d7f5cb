package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/frejanordsiek/GeminiMotorDrive/compiler"
	"github.com/frejanordsiek/GeminiMotorDrive/drive"
	"github.com/frejanordsiek/GeminiMotorDrive/internal/config"
	"github.com/frejanordsiek/GeminiMotorDrive/internal/debug"
	"github.com/frejanordsiek/GeminiMotorDrive/sequence"
	"github.com/frejanordsiek/GeminiMotorDrive/units"
)

const usage = `usage: gmdrive [flags] <command>

commands:
  compile   compile a sequence file and print the drive commands
  estimate  print the estimated execution time of a sequence file
  store     compile a sequence file and store it on the drive
  run       run the stored program or profile
  status    print drive state (energized, motion, motor constants)

flags:
`

func main() {
	// CLI flags
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	seqPath := flag.String("sequence", "", "path to sequence file (yaml)")
	modeFlag := flag.String("mode", "program", "compilation target: program or profile")
	program := flag.Int("program", 0, "stored program/profile slot; 0 = use config default")
	debugLevel := flag.Int("debug", -1, "override debug level 0-4; -1 = use config default")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *debugLevel >= 0 {
		cfg.Defaults.DebugLevel = *debugLevel
	}
	if *program > 0 {
		cfg.Defaults.ProgramNumber = *program
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mode", mode)

	switch command {
	case "compile":
		err = runCompile(cfg, *seqPath, mode)
	case "estimate":
		err = runEstimate(cfg, *seqPath)
	case "store":
		err = withDrive(cfg, func(d *drive.Drive) error {
			return runStore(ctx, cfg, d, *seqPath, mode)
		})
	case "run":
		err = withDrive(cfg, func(d *drive.Drive) error {
			return runStored(ctx, cfg, d, *seqPath, mode)
		})
	case "status":
		err = withDrive(cfg, func(d *drive.Drive) error {
			return runStatus(d)
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

// loadSequence reads a sequence file and converts it to motor units
// using the motor constants from the configuration.
func loadSequence(cfg *config.Config, path string) (sequence.Sequence, error) {
	if path == "" {
		return nil, fmt.Errorf("no sequence file given (use -sequence)")
	}
	f, err := sequence.LoadFile(path)
	if err != nil {
		return nil, err
	}

	s := f.Blocks
	if f.Units == sequence.UnitsPhysical {
		conv, err := units.NewConverter(cfg.Motor.ElectricalPitchMm,
			float64(cfg.Motor.EncoderResolution), cfg.MetersPerUnit())
		if err != nil {
			return nil, err
		}
		s = conv.ToNative(s)
	}
	return s, nil
}

func runCompile(cfg *config.Config, seqPath string, mode compiler.Mode) error {
	s, err := loadSequence(cfg, seqPath)
	if err != nil {
		return err
	}
	commands, err := compiler.Compile(s, mode)
	if err != nil {
		return err
	}
	for _, c := range commands {
		fmt.Println(c)
	}
	return nil
}

func runEstimate(cfg *config.Config, seqPath string) error {
	s, err := loadSequence(cfg, seqPath)
	if err != nil {
		return err
	}
	seconds, err := compiler.SequenceTime(s, float64(cfg.Motor.EncoderResolution))
	if err != nil {
		return err
	}
	moves := 0
	for _, b := range s {
		moves += b.Iterations * len(b.Moves)
	}
	debug.Sequence(len(s), moves, seconds)
	fmt.Printf("%.3f s\n", seconds)
	return nil
}

func runStore(ctx context.Context, cfg *config.Config, d *drive.Drive, seqPath string, mode compiler.Mode) error {
	s, err := loadSequence(cfg, seqPath)
	if err != nil {
		return err
	}
	commands, err := compiler.Compile(s, mode)
	if err != nil {
		return err
	}
	debug.Commands("Compiled sequence", commands)
	n := cfg.Defaults.ProgramNumber
	if mode == compiler.ModeProfile {
		return d.SetProfile(ctx, n, commands)
	}
	return d.SetProgram(ctx, n, commands)
}

// runStored starts the stored program or profile. For programs the
// response timeout is the estimated sequence time plus a margin, so
// the run can finish before the read gives up.
func runStored(ctx context.Context, cfg *config.Config, d *drive.Drive, seqPath string, mode compiler.Mode) error {
	n := cfg.Defaults.ProgramNumber

	if mode == compiler.ModeProfile {
		debug.Run(fmt.Sprintf("PROF%d", n), 0)
		_, err := d.RunProfile(ctx, n)
		return err
	}

	timeout := cfg.RunMargin()
	if seqPath != "" {
		s, err := loadSequence(cfg, seqPath)
		if err != nil {
			return err
		}
		seconds, err := compiler.SequenceTime(s, float64(cfg.Motor.EncoderResolution))
		if err != nil {
			return err
		}
		timeout += time.Duration(seconds * float64(time.Second))
	}
	debug.Run(fmt.Sprintf("PROG%d", n), timeout.Seconds())
	_, err := d.RunProgram(ctx, n, timeout)
	return err
}

func runStatus(d *drive.Drive) error {
	energized, err := d.Energized()
	if err != nil {
		return err
	}
	moving, err := d.MotionCommanded()
	if err != nil {
		return err
	}
	eres, err := d.EncoderResolution()
	if err != nil {
		return err
	}
	pitch, err := d.ElectricalPitch()
	if err != nil {
		return err
	}
	fmt.Printf("energized:          %v\n", energized)
	fmt.Printf("motion commanded:   %v\n", moving)
	fmt.Printf("encoder resolution: %d\n", eres)
	fmt.Printf("electrical pitch:   %g mm\n", pitch)
	return nil
}

// withDrive opens the serial port, attaches to the drive and runs fn,
// restoring the drive's communication settings afterwards.
func withDrive(cfg *config.Config, fn func(*drive.Drive) error) error {
	var port drive.Port
	var err error
	if cfg.Serial.Mock {
		port = &drive.MockPort{Echo: true}
	} else {
		port, err = drive.OpenPort(drive.PortConfig{
			Device: cfg.Serial.Port,
			Baud:   cfg.Serial.Baud,
		})
		if err != nil {
			return err
		}
	}

	conn, err := drive.NewConn(port, drive.ConnConfig{
		CheckEcho: cfg.Serial.CheckEcho,
		Timeout:   cfg.CommandTimeout(),
		CharDelay: cfg.CharDelay(),
	})
	if err != nil {
		port.Close()
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("closing drive connection failed: %v", err)
		}
	}()

	d := drive.NewDrive(conn)
	d.MaxRetries = cfg.Defaults.MaxRetries
	return fn(d)
}

func parseMode(s string) (compiler.Mode, error) {
	switch s {
	case "program":
		return compiler.ModeProgram, nil
	case "profile":
		return compiler.ModeProfile, nil
	default:
		return 0, fmt.Errorf("must be program or profile, got %q", s)
	}
}
