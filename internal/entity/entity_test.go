package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFloat(t *testing.T) {
	b := EncodeFloat(21.5)
	assert.Equal(t, []byte{0x00, 0x00, 0xac, 0x41}, b)

	v, err := DecodeFloat(b)
	require.NoError(t, err)
	assert.Equal(t, float32(21.5), v)

	_, err = DecodeFloat([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestDecodeBool(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    bool
		wantErr bool
	}{
		{name: "single byte on", input: []byte{1}, want: true},
		{name: "single byte off", input: []byte{0}, want: false},
		{name: "uint16 on", input: []byte{1, 0}, want: true},
		{name: "uint16 high byte", input: []byte{0, 1}, want: true},
		{name: "empty", input: nil, wantErr: true},
		{name: "too long", input: []byte{1, 0, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBool(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSensorPublishNotifiesObservers(t *testing.T) {
	s := NewSensor("temperature", "Temperature")
	var got [][]byte
	s.Observe(func(v []byte) { got = append(got, v) })

	s.Publish(1.5)
	s.Publish(2.5)

	require.Len(t, got, 2)
	assert.Equal(t, EncodeFloat(2.5), got[1])
	assert.Equal(t, float32(2.5), s.State())
	assert.Equal(t, "Temperature", s.Name())
}

func TestNameFallsBackToID(t *testing.T) {
	assert.Equal(t, "door", NewBinarySensor("door", "").Name())
}

func TestSwitchApply(t *testing.T) {
	t.Run("accepts write", func(t *testing.T) {
		sw := NewSwitch("relay", "Relay", nil)
		require.NoError(t, sw.Apply([]byte{1}))
		assert.True(t, sw.State())
		assert.Equal(t, []byte{1, 0}, sw.Value())
	})

	t.Run("veto keeps state", func(t *testing.T) {
		sw := NewSwitch("relay", "Relay", func(bool) error { return errors.New("interlocked") })
		notified := false
		sw.Observe(func([]byte) { notified = true })

		assert.Error(t, sw.Apply([]byte{1}))
		assert.False(t, sw.State())
		assert.False(t, notified)
	})

	t.Run("malformed write", func(t *testing.T) {
		sw := NewSwitch("relay", "Relay", nil)
		assert.ErrorIs(t, sw.Apply(nil), ErrInvalidValue)
	})
}

func TestTextSensor(t *testing.T) {
	s := NewTextSensor("status", "Status")
	s.Publish("ok")
	assert.Equal(t, []byte("ok"), s.Value())
}

func TestFanValue(t *testing.T) {
	f := NewFan("fan", "Fan", FanTraits{SpeedCount: 3, Oscillation: true, Direction: true}, nil)
	f.Publish(FanState{On: true, Speed: 2, Oscillating: true, Direction: FanReverse})

	assert.Equal(t, "fan=on speed=2/3 oscillating=yes direction=reverse", string(f.Value()))

	plain := NewFan("plain", "Plain", FanTraits{}, nil)
	assert.Equal(t, "fan=off", string(plain.Value()))

	percent := NewFan("pct", "Pct", FanTraits{SpeedCount: 100}, nil)
	percent.Publish(FanState{Speed: 40})
	assert.Equal(t, "fan=off speed=40", string(percent.Value()))
}

func TestFanApply(t *testing.T) {
	traits := FanTraits{SpeedCount: 3, Oscillation: true}

	t.Run("single byte toggles power", func(t *testing.T) {
		f := NewFan("fan", "Fan", traits, nil)
		require.NoError(t, f.Apply([]byte{1}))
		assert.True(t, f.State().On)
		require.NoError(t, f.Apply([]byte{0}))
		assert.False(t, f.State().On)
	})

	t.Run("options", func(t *testing.T) {
		f := NewFan("fan", "Fan", traits, nil)
		require.NoError(t, f.Apply([]byte("on 3 yes")))
		assert.Equal(t, FanState{On: true, Speed: 3, Oscillating: true}, f.State())
	})

	t.Run("unsupported option rejects whole write", func(t *testing.T) {
		f := NewFan("fan", "Fan", traits, nil)
		err := f.Apply([]byte("on reverse"))
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.False(t, f.State().On)
	})

	t.Run("speed out of range", func(t *testing.T) {
		f := NewFan("fan", "Fan", traits, nil)
		assert.Error(t, f.Apply([]byte("on 4")))
	})

	t.Run("veto", func(t *testing.T) {
		f := NewFan("fan", "Fan", traits, func(FanState) error { return errors.New("busy") })
		assert.Error(t, f.Apply([]byte("on")))
		assert.False(t, f.State().On)
	})
}
