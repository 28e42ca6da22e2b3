package engine

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type systemRandom struct{}

func (systemRandom) Read(p []byte) (int, error) { return rand.Read(p) }

type fakeStatus struct{}

func (fakeStatus) DeviceStatus() host.DeviceStatus {
	return host.DeviceStatus{BatteryPercent: 80, Online: true, TransportsAvailable: []string{"local_bus"}}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := Config{
		TransportsEnabled:     []TransportName{TransportNameLocalBus},
		LocalBusRendezvousDir: filepath.Join(t.TempDir(), "localbus"),
	}
	svc := host.Services{
		Clock:  host.NewSystemClock(),
		Random: systemRandom{},
		Status: fakeStatus{},
	}
	e, err := New(cfg, svc, log)
	require.NoError(t, err)
	return e
}

func TestPowerOnPowerOffIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.PowerOn(ctx))
	require.NoError(t, e.PowerOn(ctx), "PowerOn must be idempotent while already on")
	require.True(t, e.poweredOn())

	require.NoError(t, e.PowerOff())
	require.NoError(t, e.PowerOff(), "PowerOff must be idempotent while already off")
	require.False(t, e.poweredOn())
}

func TestTransmitRequiresPowerOn(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.TransmitText("hello", false, types.NodeId{})
	require.ErrorIs(t, err, types.ErrPoweredOff)

	_, err = e.SendEmergencyBeacon([]byte("help"), nil)
	require.ErrorIs(t, err, types.ErrPoweredOff)

	require.NoError(t, e.PowerOn(context.Background()))
	defer e.PowerOff()

	pid, err := e.TransmitText("hello", false, types.NodeId{})
	require.NoError(t, err)
	require.NotEqual(t, types.PacketID{}, pid)
}

func TestSetChannelWorksWhilePoweredOff(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetChannel(5))
	require.Equal(t, uint8(5), e.CurrentChannel())
}

func TestPairingRoundTrip(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	codeFromA, err := a.GeneratePairingCode()
	require.NoError(t, err)

	peer, err := b.IngestPairingCode(codeFromA)
	require.NoError(t, err)
	require.Equal(t, a.SelfID(), peer)

	codeFromB, err := b.GeneratePairingCode()
	require.NoError(t, err)
	_, err = a.IngestPairingCode(codeFromB)
	require.NoError(t, err)

	vcB, err := b.cryptoMgr.ComputeVerificationCode(a.SelfID())
	require.NoError(t, err)

	ok, err := a.VerifyPairing(b.SelfID(), vcB)
	require.NoError(t, err)
	require.True(t, ok)

	a.RemovePairing(b.SelfID())
	require.Empty(t, a.ListPairings())
}

func TestRotateKeysDiscardsPairings(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	codeFromB, err := b.GeneratePairingCode()
	require.NoError(t, err)
	_, err = a.IngestPairingCode(codeFromB)
	require.NoError(t, err)
	require.NotEmpty(t, a.ListPairings())

	require.NoError(t, a.RotateKeys())
	require.Empty(t, a.ListPairings())
}

func TestCurrentStatusReflectsHost(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.PowerOn(context.Background()))
	defer e.PowerOff()

	e.statusMon.Refresh()
	time.Sleep(10 * time.Millisecond)

	snap := e.CurrentStatus()
	require.Equal(t, uint8(80), snap.Battery)
	require.True(t, snap.Online)
}

func TestMetricsRegistryNonNil(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, e.Metrics())
}

func TestTransportCount(t *testing.T) {
	e := newTestEngine(t)
	require.Equal(t, 1, e.TransportCount())
}
