package main

import (
	"fmt"

	"github.com/krake-hil/canswitcher/internal/switcher"
)

type PcCmd struct{}

func (PcCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.Route(switcher.RoutePC)
}

type EcuCmd struct{}

func (EcuCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.Route(switcher.RouteECU)
}

type StatusCmd struct{}

func (StatusCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := ctrl.Status()
	if err != nil {
		return err
	}

	fmt.Printf("Board version: %s\n", status.Board)

	if status.LastRoute != nil {
		fmt.Printf("Last route:    %s (%s, operation %s)\n",
			status.LastRoute.Route,
			status.LastRoute.At.Format("2006-01-02 15:04:05 MST"),
			status.LastRoute.OperationID)
	} else {
		fmt.Println("Last route:    unknown")
	}

	fmt.Println("Pins:")
	for _, pin := range status.Pins {
		fmt.Printf("  %-18s %s\n", pin.Name, onOff(pin.On))
	}

	return nil
}

type RelayCmd struct {
	Relay int    `kong:"arg,help='Relay channel (1-6).'"`
	State string `kong:"arg,enum='on,off',help='Desired relay state.'"`
}

func (r RelayCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.SetRelay(r.Relay, r.State == "on")
}

type CanCmd struct {
	Select CanSelectCmd `kong:"cmd,help='Route a single CAN channel, opening all others.'"`
	Off    CanOffCmd    `kong:"cmd,help='Open all CAN channel relays.'"`
	Bridge CanBridgeCmd `kong:"cmd,help='Connect or disconnect the CAN0/CAN1 bridge.'"`
}

type CanSelectCmd struct {
	Channel int `kong:"arg,help='CAN channel (1-8).'"`
}

func (c CanSelectCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.SelectCANChannel(c.Channel)
}

type CanOffCmd struct{}

func (CanOffCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.DisableCANChannels()
}

type CanBridgeCmd struct {
	State string `kong:"arg,enum='on,off',help='Desired bridge state.'"`
}

func (c CanBridgeCmd) Run(rctx *runContext) error {
	ctrl, cleanup, err := rctx.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.SetCANBridge(c.State == "on")
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
