package bitonic

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
)

// mockDevice implements Device for testing. It runs dispatches on an
// embedded CPUDevice unless an error is configured.
type mockDevice struct {
	name      string
	initErr   error
	submitErr error
	readErr   error
	truncate  bool
	maxGroup  uint32

	mu        sync.Mutex
	closed    bool
	submits   int
	threads   uint32
	provider  any
	renderErr error
	renders   int

	cpu *CPUDevice
}

func newMockDevice(name string) *mockDevice {
	return &mockDevice{name: name, maxGroup: MaxThreads, cpu: NewCPUDevice()}
}

func (m *mockDevice) Name() string { return m.name }

func (m *mockDevice) Init() error { return m.initErr }

func (m *mockDevice) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cpu.Close()
}

func (m *mockDevice) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockDevice) MaxWorkgroupSize() uint32 { return m.maxGroup }

func (m *mockDevice) Configure(threads uint32) error {
	m.mu.Lock()
	m.threads = threads
	m.mu.Unlock()
	return m.cpu.Configure(threads)
}

func (m *mockDevice) Submit(ctx context.Context, d Dispatch) (*Readback, error) {
	m.mu.Lock()
	m.submits++
	m.mu.Unlock()

	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if m.readErr != nil {
		rb := NewReadback()
		rb.Resolve(ReadbackResult{}, m.readErr)
		return rb, nil
	}
	if m.truncate {
		rb := NewReadback()
		rb.Resolve(ReadbackResult{Elements: d.Elements[:1]}, nil)
		return rb, nil
	}
	return m.cpu.Submit(ctx, d)
}

func (m *mockDevice) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

func (m *mockDevice) SetDeviceProvider(provider any) error {
	m.mu.Lock()
	m.provider = provider
	m.mu.Unlock()
	return nil
}

// mockDisplayDevice adds DisplayRenderer to mockDevice.
type mockDisplayDevice struct {
	*mockDevice
}

func (m mockDisplayDevice) RenderDisplay(_ context.Context, elements []uint32, u DisplayUniforms, w, h int) (*image.RGBA, error) {
	m.mu.Lock()
	m.renders++
	err := m.renderErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

// resetDevice clears the global device state between tests.
func resetDevice() {
	devMu.Lock()
	dev = nil
	devMu.Unlock()
}

func TestRegisterDeviceNil(t *testing.T) {
	resetDevice()

	err := RegisterDevice(nil)
	if !errors.Is(err, ErrNilDevice) {
		t.Fatalf("RegisterDevice(nil) = %v, want ErrNilDevice", err)
	}
	if RegisteredDevice() != nil {
		t.Error("device should remain nil after failed registration")
	}
}

func TestRegisterDeviceInitError(t *testing.T) {
	resetDevice()

	initErr := errors.New("adapter not found")
	mock := newMockDevice("failing")
	mock.initErr = initErr

	err := RegisterDevice(mock)
	if !errors.Is(err, initErr) {
		t.Errorf("expected init error, got: %v", err)
	}
	if RegisteredDevice() != nil {
		t.Error("device should remain nil after Init failure")
	}
}

func TestRegisterDeviceReplacesOld(t *testing.T) {
	resetDevice()
	t.Cleanup(resetDevice)

	first := newMockDevice("first")
	second := newMockDevice("second")

	if err := RegisterDevice(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := RegisterDevice(second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	if !first.isClosed() {
		t.Error("expected first device to be closed after replacement")
	}
	if second.isClosed() {
		t.Error("second device should not be closed")
	}
	if got := RegisteredDevice(); got == nil || got.Name() != "second" {
		t.Errorf("RegisteredDevice() = %v, want second", got)
	}
}

func TestUnregisterDeviceCloses(t *testing.T) {
	resetDevice()

	mock := newMockDevice("gpu")
	if err := RegisterDevice(mock); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	UnregisterDevice()

	if !mock.isClosed() {
		t.Error("expected device to be closed")
	}
	if RegisteredDevice() != nil {
		t.Error("expected no registered device")
	}
}

func TestSetDeviceProvider(t *testing.T) {
	resetDevice()
	t.Cleanup(resetDevice)

	if err := SetDeviceProvider("host"); err != nil {
		t.Errorf("SetDeviceProvider without device = %v, want nil", err)
	}

	mock := newMockDevice("gpu")
	if err := RegisterDevice(mock); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := SetDeviceProvider("host"); err != nil {
		t.Fatalf("SetDeviceProvider: %v", err)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.provider != "host" {
		t.Errorf("provider = %v, want host", mock.provider)
	}
}

func TestReadbackResolveOnce(t *testing.T) {
	rb := NewReadback()
	rb.Resolve(ReadbackResult{Elements: []uint32{1, 2}, Swaps: 1}, nil)
	rb.Resolve(ReadbackResult{}, errors.New("late"))

	res, err := rb.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(res.Elements) != 2 || res.Swaps != 1 {
		t.Errorf("Wait = %+v, want the first result", res)
	}
	select {
	case <-rb.Done():
	default:
		t.Error("Done channel not closed after Resolve")
	}
}

func TestReadbackWaitCancelled(t *testing.T) {
	rb := NewReadback()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rb.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}
