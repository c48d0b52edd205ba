package sandbox

import (
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/errs"
)

func TestContainerSpec_Configs(t *testing.T) {
	spec := ContainerSpec{
		Name:        "driftbox-1",
		Image:       "postgres:16-alpine",
		Env:         []string{"POSTGRES_PASSWORD=x"},
		Labels:      map[string]string{labelSandbox: "1"},
		Port:        postgresPort,
		MemoryLimit: 256 << 20,
	}

	cfg, host := spec.configs()
	assert.Equal(t, "postgres:16-alpine", cfg.Image)
	assert.Contains(t, cfg.ExposedPorts, postgresPort)
	assert.Equal(t, []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}, host.PortBindings[postgresPort])
	assert.Equal(t, int64(256<<20), host.Resources.Memory)

	spec.HostPort = 40001
	_, host = spec.configs()
	assert.Equal(t, "40001", host.PortBindings[postgresPort][0].HostPort)
}

func TestBoundPort(t *testing.T) {
	ports := nat.PortMap{
		postgresPort: {{HostIP: "127.0.0.1", HostPort: ""}, {HostIP: "127.0.0.1", HostPort: "49153"}},
	}
	n, err := boundPort(ports, postgresPort)
	require.NoError(t, err)
	assert.Equal(t, 49153, n)

	_, err = boundPort(ports, nat.Port("80/tcp"))
	assert.True(t, errs.IsProvisioning(err))

	_, err = boundPort(nat.PortMap{postgresPort: {{HostPort: "abc"}}}, postgresPort)
	assert.True(t, errs.IsProvisioning(err))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestSequentialPorts(t *testing.T) {
	p := NewSequentialPorts(40000, 2)

	a, err := p.Allocate()
	require.NoError(t, err)
	b, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, []int{40000, 40001}, []int{a, b})

	_, err = p.Allocate()
	assert.True(t, errs.IsProvisioning(err))

	p.Release(a)
	c, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 40000, c)
	assert.Equal(t, 2, p.InUse())
}

func TestEphemeralPorts(t *testing.T) {
	port, err := EphemeralPorts{}.Allocate()
	require.NoError(t, err)
	assert.Zero(t, port)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, b.Delay(0))
	assert.Equal(t, 20*time.Millisecond, b.Delay(1))
	assert.Equal(t, 40*time.Millisecond, b.Delay(2))
	assert.Equal(t, 50*time.Millisecond, b.Delay(3))

	assert.Equal(t, DefaultBackoff().Initial, Backoff{}.Delay(0))
}
