package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func fakeList(details ...*enumerator.PortDetails) Lister {
	return func() ([]*enumerator.PortDetails, error) { return details, nil }
}

func TestClassify(t *testing.T) {
	assert.Equal(t, RoleLidar, Classify("10C4", "EA60", "CP2102N"))
	assert.Equal(t, RoleFlightController, Classify("2dae", "1016", ""))
	assert.Equal(t, RoleFlightController, Classify("1209", "5741", ""))
	assert.Equal(t, RoleFlightController, Classify("0483", "5740", "PX4 FMU v5"))
	assert.Equal(t, RoleUnknown, Classify("10c4", "ea70", ""))
}

func TestDetectAndResolve(t *testing.T) {
	list := fakeList(
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", Product: "CP2102N"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "2DAE", PID: "1016", Product: "Pixhawk6C"},
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
	)

	found, err := Detect(list)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "/dev/ttyACM0", found[0].Name)
	assert.Equal(t, RoleFlightController, found[0].Role)
	assert.Equal(t, "10c4", found[2].VID)
	assert.Equal(t, RoleUnknown, found[1].Role)

	port, err := Resolve(Auto, RoleLidar, list)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", port)

	port, err = Resolve("/dev/rplidar", RoleLidar, list)
	require.NoError(t, err)
	assert.Equal(t, "/dev/rplidar", port)
}

func TestResolveFallbacks(t *testing.T) {
	list := fakeList(&enumerator.PortDetails{Name: "/dev/ttyACM1", IsUSB: true, VID: "0483", PID: "5740"})

	port, err := Resolve(Auto, RoleFlightController, list)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", port)

	_, err = Resolve(Auto, RoleLidar, list)
	assert.ErrorIs(t, err, ErrNotDetected)

	broken := func() ([]*enumerator.PortDetails, error) { return nil, errors.New("no sysfs") }
	_, err = Resolve(Auto, RoleLidar, broken)
	assert.Error(t, err)
}
