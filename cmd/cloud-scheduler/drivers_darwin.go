// +build darwin

package main

import (
	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/drivers/localvm"
	"github.com/rs/zerolog"
)

// registerLocalDriver wires the lima-backed driver under the "Nimbus"
// cloud_type on macOS, where Lima is available.
func registerLocalDriver(registry *driver.Registry, logger zerolog.Logger) {
	registry.Register("Nimbus", localvm.New("cs-", logger))
}
