//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package controller

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/navigation"
)

// fakeDriver records calls and can report concurrent execution.
type fakeDriver struct {
	category string
	models   []string
	commands []CommandSpec

	mu       sync.Mutex
	calls    []string
	inFlight int
	overlap  bool
	delay    time.Duration
	created  int
}

func (f *fakeDriver) Category() string          { return f.category }
func (f *fakeDriver) SupportedModels() []string { return f.models }
func (f *fakeDriver) Commands() []CommandSpec   { return f.commands }

func (f *fakeDriver) Execute(_ context.Context, command string, _ map[string]any) (*ExecResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.calls = append(f.calls, command)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return &ExecResult{Success: true}, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeDriver) {
	t.Helper()
	reg := NewRegistry()
	driver := &fakeDriver{
		category: CategoryRemote,
		models:   []string{"android_mobile"},
		commands: []CommandSpec{{Name: "press_key"}, {Name: "click_element"}},
	}
	require.NoError(t, reg.Register(CategoryRemote, driver.commands, func(Device) (Driver, error) {
		driver.mu.Lock()
		driver.created++
		driver.mu.Unlock()
		return driver, nil
	}))
	reg.AddDevice(Device{ID: "device1", Model: "android_mobile", Serial: "emulator-5554"})
	return reg, driver
}

func TestGetControllerLazySingleton(t *testing.T) {
	reg, driver := newTestRegistry(t)

	first, err := reg.GetController("device1", CategoryRemote)
	require.NoError(t, err)
	second, err := reg.GetController("device1", CategoryRemote)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, driver, first.(*fakeDriver))
	assert.Equal(t, 1, driver.created, "driver must be instantiated once per (device, category)")
}

func TestGetControllerErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.GetController("ghost", CategoryRemote)
	assert.ErrorIs(t, err, execution.ErrDeviceUnavailable)

	_, err = reg.GetController("device1", CategoryAV)
	assert.ErrorIs(t, err, ErrNoSuchController)

	// Model mismatch is a missing controller, not a crash.
	reg.AddDevice(Device{ID: "stb1", Model: "apple_tv"})
	_, err = reg.GetController("stb1", CategoryRemote)
	assert.ErrorIs(t, err, ErrNoSuchController)
}

func TestExecuteCommandRoutesByCommandTable(t *testing.T) {
	reg, driver := newTestRegistry(t)

	res, err := reg.ExecuteCommand(context.Background(), "device1", "", "press_key",
		map[string]any{"key": "OK"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"press_key"}, driver.calls)

	_, err = reg.ExecuteCommand(context.Background(), "device1", "", "teleport", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestExecuteCommandSerializesPerDevice(t *testing.T) {
	reg, driver := newTestRegistry(t)
	driver.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.ExecuteCommand(context.Background(), "device1", CategoryRemote, "press_key", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, driver.overlap, "commands on one device must not overlap")
	assert.Len(t, driver.calls, 4)
}

func TestRegisterRejectsCommandClash(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(CategoryRemote, []CommandSpec{{Name: "press_key"}},
		func(Device) (Driver, error) { return &fakeDriver{}, nil }))
	err := reg.Register(CategoryAV, []CommandSpec{{Name: "press_key"}},
		func(Device) (Driver, error) { return &fakeDriver{}, nil })
	assert.Error(t, err)
}

func TestRunnerBridgesExecution(t *testing.T) {
	reg := NewRegistry()
	remote := &fakeDriver{category: CategoryRemote, commands: []CommandSpec{{Name: "press_key"}}}
	verifier := &fakeDriver{category: CategoryVerificationText, commands: []CommandSpec{{Name: "waitForTextToAppear"}}}
	require.NoError(t, reg.Register(CategoryRemote, remote.commands,
		func(Device) (Driver, error) { return remote, nil }))
	require.NoError(t, reg.Register(CategoryVerificationText, verifier.commands,
		func(Device) (Driver, error) { return verifier, nil }))
	reg.AddDevice(Device{ID: "device1", Model: "android_mobile"})

	runner := NewRunner(reg)
	out, err := runner.RunAction(context.Background(), "device1",
		navigation.Action{Command: "press_key", Params: map[string]any{"key": "OK"}})
	require.NoError(t, err)
	assert.True(t, out.Success)

	out, err = runner.RunVerification(context.Background(), "device1",
		navigation.Verification{Type: "text", Command: "waitForTextToAppear",
			Params: map[string]any{"text": "Live"}})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"waitForTextToAppear"}, verifier.calls)

	_, err = runner.RunVerification(context.Background(), "device1",
		navigation.Verification{Type: "smell", Command: "sniff"})
	assert.ErrorIs(t, err, ErrNoSuchController)
}

func TestADBRemotePressKey(t *testing.T) {
	var got []string
	driver := &ADBRemote{
		device: Device{ID: "device1", Serial: "emulator-5554"},
		run: func(_ context.Context, serial string, args ...string) (string, error) {
			assert.Equal(t, "emulator-5554", serial)
			got = args
			return "", nil
		},
	}

	res, err := driver.Execute(context.Background(), "press_key", map[string]any{"key": "back"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"shell", "input", "keyevent", "4"}, got)

	res, err = driver.Execute(context.Background(), "press_key", map[string]any{"key": "NO_SUCH_KEY"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestHLSCaptureRecentSegments(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "seg"+string(rune('0'+i))+".ts")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(path, base, base.Add(time.Duration(i)*time.Second)))
	}

	factory := NewHLSCaptureFactory(2)
	driver, err := factory(Device{ID: "device1", CaptureDir: dir})
	require.NoError(t, err)
	capture := driver.(*HLSCapture)

	// 6 seconds of capture at 2 s per segment is the newest 3 segments.
	segments, err := capture.RecentSegments(10, 6)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, filepath.Join(dir, "seg5.ts"), segments[len(segments)-1])

	// The count cap wins over the duration window.
	segments, err = capture.RecentSegments(2, 10)
	require.NoError(t, err)
	assert.Len(t, segments, 2)

	assert.Equal(t, dir, capture.CaptureFolder())
}
