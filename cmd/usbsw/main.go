package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"

	"github.com/krake-hil/canswitcher/internal/eeprom"
	"github.com/krake-hil/canswitcher/internal/expander"
	"github.com/krake-hil/canswitcher/internal/journal"
	"github.com/krake-hil/canswitcher/internal/lock"
	"github.com/krake-hil/canswitcher/internal/smbus"
	"github.com/krake-hil/canswitcher/internal/switcher"
)

var cli struct {
	Debug   bool   `kong:"optional,help='Enable debug logging.'"`
	Verbose int    `kong:"optional,hidden,type='counter',help='Debug verbosity level.'"`
	Config  string `kong:"optional,help='Pinout configuration file override.'"`
	LockDir string `kong:"optional,help='Directory holding the hardware lock files.'"`
	Journal string `kong:"optional,default='/var/lib/canswitcher/journal',help='Route journal directory. Empty disables the journal.'"`
	Mock    bool   `kong:"optional,hidden,env='CANSWITCHER_MOCK',help='Drive a simulated bus instead of /dev/i2c.'"`

	Pc     PcCmd     `kong:"cmd,help='Connect the USB drive to the PC.'"`
	Ecu    EcuCmd    `kong:"cmd,help='Connect the USB drive to the ECU.'"`
	Status StatusCmd `kong:"cmd,help='Report the switcher pin states and the last committed route.'"`
	Relay  RelayCmd  `kong:"cmd,help='Drive an external relay channel.'"`
	Can    CanCmd    `kong:"cmd,help='CAN channel routing commands.'"`
}

func main() {
	c := kong.Parse(&cli,
		kong.Name("usbsw"),
		kong.Description("Connect the USB drive on the CAN switcher to the PC or to the ECU."),
	)

	setupLogging()

	err := c.Run(&runContext{controller: buildController})
	c.FatalIfErrorf(err)
}

func setupLogging() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:   isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp: true,
	})

	switch {
	case cli.Verbose >= 2:
		log.SetLevel(log.TraceLevel)
	case cli.Debug || cli.Verbose == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// runContext carries the controller factory into the subcommands so tests
// can swap in a mock-backed one.
type runContext struct {
	controller func() (*switcher.Controller, func(), error)
}

// buildController assembles the hardware stack: HAT identity (when the
// board is present), port expander, hardware lock, and route journal.
func buildController() (*switcher.Controller, func(), error) {
	var bus smbus.ControllerInterface = smbus.NewController()
	if cli.Mock {
		bus = smbus.NewMockController()
	}

	opts := expander.Options{ConfigPath: cli.Config}

	if id, err := eeprom.Read(); err == nil {
		if addr, ok := id.ExpanderAddress(); ok {
			opts.Address = addr
		}
		if id.Version != "" {
			opts.BoardVersion = id.Version
		}
		if std, ok := id.USBStandard(); ok {
			opts.USBStandard = std
		}
	} else {
		// An unprogrammed EEPROM is fine, the pinout defaults apply.
		log.WithError(err).Debug("HAT identity unavailable, using defaults")
	}

	exp, err := expander.New(bus, opts)
	if err != nil {
		return nil, nil, err
	}

	lk, err := lock.New(lock.TargetInteraction, cli.LockDir)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}

	var jnl *journal.Journal
	if cli.Journal != "" {
		if jnl, err = journal.Open(cli.Journal); err != nil {
			// Routing must keep working when the journal does not.
			log.WithError(err).Warn("Route journal unavailable")
			jnl = nil
		} else {
			cleanup = func() {
				if err := jnl.Close(); err != nil {
					log.WithError(err).Warn("Route journal not closed cleanly")
				}
			}
		}
	}

	return switcher.New(exp, lk, jnl), cleanup, nil
}
