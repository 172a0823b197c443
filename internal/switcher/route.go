package switcher

import "strings"

// Route identifies which endpoint the USB drive is connected to.
type Route int

const (
	// RoutePC connects the drive to the PC through the Raspberry Pi
	// USB connection.
	RoutePC Route = iota

	// RouteECU connects the drive to the ECU on the external USB
	// connector.
	RouteECU

	routeCount
)

func (r Route) String() string {
	switch r {
	case RoutePC:
		return "pc"
	case RouteECU:
		return "ecu"
	}
	return "unknown"
}

func (r Route) valid() bool {
	return r >= 0 && r < routeCount
}

// ParseRoute converts operator input into a Route. Anything outside
// {pc, ecu} is rejected.
func ParseRoute(s string) (Route, error) {
	switch strings.ToLower(s) {
	case "pc":
		return RoutePC, nil
	case "ecu":
		return RouteECU, nil
	}

	return routeCount, &InvalidTargetError{Target: s}
}
