package provisioning

import (
	"context"
	"fmt"
)

// Fact names one piece of job state. Tasks declare the facts they read and
// the facts they produce so a job can check its task chain before making
// any remote call.
type Fact int

const (
	// FactKey is the tenant integration key.
	FactKey Fact = iota + 1
	// FactDevice is satisfied when exactly one piece of equipment is bound.
	FactDevice
	// FactDevices is satisfied when at least one piece of equipment is bound.
	FactDevices
	// FactLocalDrivers is the authoritative driver list from the ERP.
	FactLocalDrivers
	// FactDriver is the single driver a push job sends.
	FactDriver
	// FactTransmissionRequested records when the equipment was asked for its list.
	FactTransmissionRequested
	// FactRemoteDrivers is the driver list the equipment reported.
	FactRemoteDrivers
	// FactDeletedDrivers lists the drivers removed from the equipment.
	FactDeletedDrivers
	// FactInsertedDrivers lists the drivers added to the equipment.
	FactInsertedDrivers
)

var factNames = map[Fact]string{
	FactKey:                   "integration key",
	FactDevice:                "single equipment",
	FactDevices:               "equipment",
	FactLocalDrivers:          "local drivers",
	FactDriver:                "driver",
	FactTransmissionRequested: "transmission request",
	FactRemoteDrivers:         "remote drivers",
	FactDeletedDrivers:        "deleted drivers",
	FactInsertedDrivers:       "inserted drivers",
}

func (f Fact) String() string {
	if name, ok := factNames[f]; ok {
		return name
	}
	return fmt.Sprintf("fact(%d)", int(f))
}

// Task is one step of a provisioning job. Run returns the message reported
// to the user when the step succeeds.
type Task interface {
	Name() string
	Requires() []Fact
	Provides() []Fact
	Run(ctx context.Context, state *State) (string, error)
}
