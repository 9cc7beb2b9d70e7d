// Command `suspscale-monitor` is a terminal live monitor for the suspension
// scale controller.
//
// It connects over serial (auto-detecting the port when none is configured),
// streams calibrated weights for both sides on a single updating line, and
// reacts to single-key commands without requiring Enter:
//
//	l / r  tare LEFT / RIGHT from the current reading
//	c      clear both tares
//	f      reset filter state
//	<ESC>  quit
package main

import (
	"flag"
	"log"
	"time"

	"github.com/CK6170/suspscale-go/canbus"
	"github.com/CK6170/suspscale-go/file"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/pipeline"
	"github.com/CK6170/suspscale-go/scale"
	"github.com/CK6170/suspscale-go/ui"
)

func main() {
	var (
		settingsPath = flag.String("settings", "settings.json", "path to settings.json")
		calPath      = flag.String("cal", "", "calibration file to load at startup")
		port         = flag.String("port", "", "serial port override (empty = settings / auto-detect)")
		baud         = flag.Int("baud", 0, "baud rate override")
		legacy       = flag.Bool("legacy", false, "decode fixed-length legacy frames")
	)
	flag.Parse()

	settings, err := file.LoadSettings(*settingsPath)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	if *port != "" {
		settings.SERIAL.PORT = *port
	}
	if *baud != 0 {
		settings.SERIAL.BAUDRATE = *baud
	}

	filterCfg := pipeline.DefaultFilterConfig
	if settings.FILTER != nil {
		kind, err := models.ParseFilterKind(settings.FILTER.KIND)
		if err != nil {
			log.Fatalf("settings: %v", err)
		}
		filterCfg = pipeline.FilterConfig{
			Kind:   kind,
			Alpha:  settings.FILTER.ALPHA,
			Window: settings.FILTER.WINDOW,
		}
	}

	session := scale.New(filterCfg)
	cfg := canbus.SerialPort{
		Name:   settings.SERIAL.PORT,
		Baud:   settings.SERIAL.BAUDRATE,
		Legacy: *legacy,
	}
	ui.Debugf(settings.DEBUG, "connecting to %s", cfg.Label())
	if err := session.Connect(cfg); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()
	ui.Greenf("Connected: %s", cfg.Label())

	if *calPath != "" {
		mods, err := file.LoadCalibration(*calPath)
		if err != nil {
			log.Fatalf("calibration: %v", err)
		}
		for _, m := range mods {
			session.SetModel(m)
		}
		ui.Greenf("Loaded %d calibration model(s)", len(mods))
	}

	// Watch link events on a side subscription so timeouts surface in the
	// terminal instead of silently freezing the weight line.
	sub := session.Link.Subscribe(1)
	go func() {
		for ev := range sub.Events {
			switch ev.Kind {
			case canbus.EventTimeout:
				ui.Warningf("No data from controller (link timeout)")
			case canbus.EventDisconnected:
				return
			}
		}
	}()

	keys := ui.StartKeyEvents()
	defer ui.DrainKeys()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			left := session.Pipeline.Latest(models.LEFT)
			right := session.Pipeline.Latest(models.RIGHT)
			ui.PrintWeightLine(left, right, session.Pipeline.Dropped())
		case k := <-keys:
			switch k {
			case 27: // ESC
				ui.Greenf("\nBye.")
				return
			case 'l', 'L':
				tareSide(session, models.LEFT)
			case 'r', 'R':
				tareSide(session, models.RIGHT)
			case 'c', 'C':
				for _, side := range models.Sides {
					for _, src := range models.Sources {
						session.ClearTare(side, src)
					}
				}
				ui.Greenf("\nTares cleared")
			case 'f', 'F':
				session.Pipeline.ResetFilters()
				ui.Greenf("\nFilters reset")
			}
		}
	}
}

func tareSide(session *scale.Session, side models.Side) {
	if err := session.TareFromLive(side); err != nil {
		ui.Warningf("\nTare %s: %v", side, err)
		return
	}
	ui.Greenf("\nTared %s", side)
}
