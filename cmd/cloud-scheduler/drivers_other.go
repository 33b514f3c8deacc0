// +build !darwin

package main

import (
	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/rs/zerolog"
)

// registerLocalDriver is a no-op on platforms without Lima. "Nimbus"
// clusters declared in a config file loaded on one of these platforms
// are rejected during reconfigure as an unknown cloud_type, the same
// path an unrecognized tag takes on any platform.
func registerLocalDriver(registry *driver.Registry, logger zerolog.Logger) {
	logger.Debug().Msg(`localvm driver unavailable on this platform; "Nimbus" clusters will be rejected`)
}
